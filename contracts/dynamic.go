package contracts

// ParameterMode is the passing direction of an operation parameter
type ParameterMode int

const (
	ParamIn ParameterMode = iota
	ParamOut
	ParamInOut
)

// Parameter is one argument of a dynamic invocation
type Parameter struct {
	Name  string
	Mode  ParameterMode
	Value any
}

// DynamicRequest is a client request assembled at run time rather than by a stub
type DynamicRequest interface {
	Arguments() []Parameter
	// Exceptions lists the repository ids of the user exceptions the operation may raise
	Exceptions() []string
	Contexts() []string
	OperationContext() []string
	Result() any
}
