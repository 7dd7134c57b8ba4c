package models

// Spec values a source can declare. Only gtfs and gtfs-flex feeds are
// downloaded by this pipeline; gtfs-rt and gbfs sources are realtime
// references that downstream systems consume directly.
const (
	SpecGTFS     = "gtfs"
	SpecGTFSFlex = "gtfs-flex"
	SpecGTFSRT   = "gtfs-rt"
	SpecGBFS     = "gbfs"
)

// License describes the usage terms of a feed. Registry resolution fills
// these in from registry metadata, but an explicit license on the declared
// source always wins.
type License struct {
	SPDXIdentifier string `json:"spdx-identifier,omitempty"`
	URL            string `json:"url,omitempty"`
}

// DisplayNameOptions are regex hints forwarded to the cleaning tool to
// rewrite trip/route display names.
type DisplayNameOptions struct {
	CopyTripNamesMatching  string `json:"copy-trip-names-matching,omitempty"`
	KeepRouteNamesMatching string `json:"keep-route-names-matching,omitempty"`
	MoveHeadsignsMatching  string `json:"move-headsigns-matching,omitempty"`
}

// HTTPOptions tune how a single source is fetched.
type HTTPOptions struct {
	FetchIntervalDays int               `json:"fetch-interval-days,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	IgnoreTLSErrors   bool              `json:"ignore-tls-errors,omitempty"`
	Method            string            `json:"method,omitempty"`
	RequestBody       string            `json:"request-body,omitempty"`
}

// SourceBase holds the fields shared by every source variant: identity,
// licensing and the postprocessing policy. Registry resolution preserves
// these verbatim; registries only ever contribute connectivity facts.
type SourceBase struct {
	Name               string              `json:"name" validate:"required"`
	Spec               string              `json:"spec,omitempty" validate:"omitempty,oneof=gtfs gtfs-flex gtfs-rt gbfs"`
	License            *License            `json:"license,omitempty"`
	Fix                bool                `json:"fix,omitempty"`
	FixCSVQuotes       bool                `json:"fix-csv-quotes,omitempty"`
	DropTooFastTrips   bool                `json:"drop-too-fast-trips,omitempty"`
	DropShapes         bool                `json:"drop-shapes,omitempty"`
	DropAgencyNames    []string            `json:"drop-agency-names,omitempty"`
	Skip               bool                `json:"skip,omitempty"`
	SkipReason         string              `json:"skip-reason,omitempty"`
	Function           string              `json:"function,omitempty"`
	DisplayNameOptions *DisplayNameOptions `json:"display-name-options,omitempty"`
}

func (b *SourceBase) Base() *SourceBase { return b }

// EffectiveSpec returns the declared spec, defaulting to gtfs.
func (b *SourceBase) EffectiveSpec() string {
	if b.Spec == "" {
		return SpecGTFS
	}
	return b.Spec
}

// Source is the closed set of declared source variants. Registry-backed
// variants resolve to an HTTPSource or URLSource before fetching.
type Source interface {
	Base() *SourceBase
}

// TransitlandSource references a feed in the Transitland Atlas by its
// stable feed id.
type TransitlandSource struct {
	SourceBase
	TransitlandAtlasID string      `json:"transitland-atlas-id" validate:"required"`
	URLOverride        string      `json:"url-override,omitempty"`
	APIKey             string      `json:"api-key,omitempty"`
	Options            HTTPOptions `json:"http-options,omitempty"`
}

// MobilityDatabaseSource references a feed in the Mobility Database CSV
// export by its numeric source id.
type MobilityDatabaseSource struct {
	SourceBase
	MDBID       int64       `json:"mdb-id" validate:"required"`
	URLOverride string      `json:"url-override,omitempty"`
	Options     HTTPOptions `json:"http-options,omitempty"`
}

// HTTPSource is a directly fetchable static schedule archive.
type HTTPSource struct {
	SourceBase
	URL         string      `json:"url" validate:"required"`
	URLOverride string      `json:"url-override,omitempty"`
	CacheURL    string      `json:"cache-url,omitempty"`
	Options     HTTPOptions `json:"http-options,omitempty"`
}

// URLSource is a realtime feed reference. It is recorded for downstream
// consumers but never downloaded by this pipeline.
type URLSource struct {
	SourceBase
	URL     string            `json:"url" validate:"required"`
	Headers map[string]string `json:"headers,omitempty"`
}
