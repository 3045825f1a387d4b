package native

import (
	"fmt"
	"sort"
	"strings"
)

// Symbol describes one native entry point: its exported name and C signature.
type Symbol struct {
	Name string
	Ret  Kind
	Args []Kind
}

// String renders the symbol as a C prototype.
func (s *Symbol) String() string {
	args := make([]string, len(s.Args))
	for i, k := range s.Args {
		args[i] = k.String()
	}
	return fmt.Sprintf("%s %s(%s)", s.Ret, s.Name, strings.Join(args, ", "))
}

var table = make(map[string]*Symbol)

func define(name string, ret Kind, args ...Kind) *Symbol {
	if _, dup := table[name]; dup {
		panic("native: duplicate symbol " + name)
	}
	s := &Symbol{Name: name, Ret: ret, Args: args}
	table[name] = s
	return s
}

// Lookup returns the symbol registered under name.
func Lookup(name string) (*Symbol, bool) {
	s, ok := table[name]
	return s, ok
}

// Symbols returns every registered symbol sorted by name.
func Symbols() []*Symbol {
	out := make([]*Symbol, 0, len(table))
	for _, s := range table {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Engine-wide entry points.
var (
	LastErrLength      = define("THSTorch_last_err_length", Int64)
	GetAndResetLastErr = define("THSTorch_get_and_reset_last_err", Int64, Pointer, Int64)
	ManualSeed         = define("THSTorch_manual_seed", Void, Int64)
	Version            = define("THSTorch_version", Int64, Pointer, Int64)
)

// Tensor entry points.
var (
	TensorNewFloat32      = define("THSTensor_new_float32", Pointer, Pointer, Pointer, Int32)
	TensorZeros           = define("THSTensor_zeros", Pointer, Pointer, Int32)
	TensorRandn           = define("THSTensor_randn", Pointer, Pointer, Int32)
	TensorNDimension      = define("THSTensor_ndimension", Int64, Pointer)
	TensorSize            = define("THSTensor_size", Int64, Pointer, Int64)
	TensorNumel           = define("THSTensor_numel", Int64, Pointer)
	TensorCopyToFloat32   = define("THSTensor_copy_to_float32", Int64, Pointer, Pointer, Int64)
	TensorCopyFromFloat32 = define("THSTensor_copy_from_float32", Void, Pointer, Pointer, Int64)
	TensorDispose         = define("THSTensor_dispose", Void, Pointer)
)

// Entry points shared by every module.
var (
	ModuleDispose       = define("THSNN_Module_dispose", Void, Pointer)
	AnyModuleDispose    = define("THSNN_AnyModule_dispose", Void, Pointer)
	ModuleNumParameters = define("THSNN_Module_num_parameters", Int64, Pointer)
	ModuleParameterName = define("THSNN_Module_parameter_name", Int64, Pointer, Int64, Pointer, Int64)
	ModuleGetParameter  = define("THSNN_Module_get_parameter", Pointer, Pointer, Int64)
	ModuleTrain         = define("THSNN_Module_train", Void, Pointer, Bool)
	ModuleIsTraining    = define("THSNN_Module_is_training", Bool, Pointer)
	SequentialPushBack  = define("THSNN_Sequential_push_back", Void, Pointer, Pointer, Pointer)
)

// Constructor argument layouts shared by operator families.
var (
	normCtor = []Kind{Int64, Float64, Float64, Bool, Bool, Pointer}
	poolCtor = []Kind{Pointer, Int32, Pointer, Int32, Pointer}
)

// Layer pairs an operator name with its constructor layout. Every layer
// exports THSNN_<Op>_ctor(args..., AnyModule* boxed) and
// THSNN_<Op>_forward(Module, Tensor).
type Layer struct {
	Op   string
	Ctor []Kind
}

// Layers is the operator catalog exposed by the engine.
var Layers = []Layer{
	{Op: "Linear", Ctor: []Kind{Int64, Int64, Bool, Pointer}},
	{Op: "Conv2d", Ctor: []Kind{Int64, Int64, Int64, Int64, Int64, Bool, Pointer}},
	{Op: "BatchNorm1d", Ctor: normCtor},
	{Op: "BatchNorm2d", Ctor: normCtor},
	{Op: "BatchNorm3d", Ctor: normCtor},
	{Op: "InstanceNorm1d", Ctor: normCtor},
	{Op: "InstanceNorm2d", Ctor: normCtor},
	{Op: "InstanceNorm3d", Ctor: normCtor},
	{Op: "AvgPool1d", Ctor: poolCtor},
	{Op: "AvgPool2d", Ctor: poolCtor},
	{Op: "AvgPool3d", Ctor: poolCtor},
	{Op: "MaxPool1d", Ctor: poolCtor},
	{Op: "MaxPool2d", Ctor: poolCtor},
	{Op: "MaxPool3d", Ctor: poolCtor},
	{Op: "ReLU", Ctor: []Kind{Pointer}},
	{Op: "Sequential", Ctor: []Kind{Pointer}},
}

func init() {
	for _, l := range Layers {
		define(ctorName(l.Op), Pointer, l.Ctor...)
		define(forwardName(l.Op), Pointer, Pointer, Pointer)
	}
}

func ctorName(op string) string    { return "THSNN_" + op + "_ctor" }
func forwardName(op string) string { return "THSNN_" + op + "_forward" }

// Ctor returns the constructor entry point of op.
// It panics for operators missing from Layers.
func Ctor(op string) *Symbol {
	return mustLookup(ctorName(op))
}

// Forward returns the forward entry point of op.
// It panics for operators missing from Layers.
func Forward(op string) *Symbol {
	return mustLookup(forwardName(op))
}

func mustLookup(name string) *Symbol {
	s, ok := table[name]
	if !ok {
		panic("native: unknown symbol " + name)
	}
	return s
}
