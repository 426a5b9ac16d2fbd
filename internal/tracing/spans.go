package tracing

// Span names.
const (
	SpanRegistryLoad   = "registry.load"
	SpanRemoteManifest = "remote.manifest"
	SpanRemoteRender   = "remote.render"
	SpanStoreFetch     = "store.fetch"
	SpanStorePersist   = "store.persist"
	SpanHTTPPrefix     = "http."
)

// Span attribute keys.
const (
	AttrModuleName      = "module.name"
	AttrModuleURL       = "module.url"
	AttrModuleEnv       = "module.env"
	AttrModuleRoute     = "module.route"
	AttrManifestName    = "manifest.name"
	AttrManifestVersion = "manifest.version"
	AttrUpdateSource    = "update.source"
	AttrUpdateFields    = "update.fields"
	AttrHTTPMethod      = "http.method"
	AttrHTTPURL         = "http.url"
	AttrHTTPRoute       = "http.route"
	AttrHTTPStatus      = "http.status_code"
	AttrRequestID       = "http.request_id"
)
