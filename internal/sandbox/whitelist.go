package sandbox

// methodWhitelist is the tabular-method whitelist: the only Frame methods a
// fragment may call.
var methodWhitelist = map[string]bool{
	"Sum": true, "Mean": true, "Max": true, "Min": true, "Count": true,
	"Std": true, "Var": true, "Median": true, "Quantile": true, "Unique": true,
	"GroupByAgg": true, "PivotTable": true, "CrossTab": true, "Corr": true,
	"Head": true, "Tail": true, "Shape": true, "Empty": true,
	"MissingCount": true, "MissingPercentage": true,
}

// builtinWhitelist is the short list of safe free functions a fragment may
// call outside of D.<Method>(...).
var builtinWhitelist = map[string]bool{
	"abs": true, "round": true, "min": true, "max": true, "sum": true,
	"len": true, "ternary": true,
}

// identWhitelist is every bare name a fragment may reference, beyond the
// sanctioned sink variable and the sandboxed dataset handle.
var identWhitelist = map[string]bool{
	"D": true, "__result__": true, "true": true, "false": true, "nil": true,
}

func isAllowedIdent(name string) bool {
	return identWhitelist[name] || builtinWhitelist[name]
}
