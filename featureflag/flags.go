package featureflag

type Flag string

const (
	// FlagFullCacheInvalidation restores clearing the whole query cache on
	// every entity mutation instead of invalidating only the touched region.
	// Regional invalidation is the default; this flag exists to compare
	// cache-hit-rate behavior between the two strategies.
	FlagFullCacheInvalidation Flag = "FULL_CACHE_INVALIDATION"

	// FlagDisableQueryCache bypasses the query cache entirely. Debugging aid
	// for isolating cache effects from index behavior.
	FlagDisableQueryCache Flag = "DISABLE_QUERY_CACHE"
)
