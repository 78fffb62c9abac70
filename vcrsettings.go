package scenevcr

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"

	"github.com/seborama/scenevcr/cassette"
	"github.com/seborama/scenevcr/encryption"
	vcrerr "github.com/seborama/scenevcr/errors"
	"github.com/seborama/scenevcr/fileio"
	"github.com/seborama/scenevcr/filter"
)

// Setting defines an optional functional parameter as received by NewVCR().
type Setting func(vcrSettings *VCRSettings)

// VCRSettings holds a set of options for the VCR.
type VCRSettings struct {
	client           *http.Client
	logger           *slog.Logger
	tracerProvider   trace.TracerProvider
	cassetteDefaults []CassetteSetting
	cassetteName     string
	cassetteSettings []CassetteSetting
	registrations    []func(*MatcherRegistry) error
}

// WithClient is an optional functional parameter to provide a VCR with
// a custom HTTP client.
func WithClient(httpClient *http.Client) Setting {
	return func(vcrSettings *VCRSettings) {
		vcrSettings.client = httpClient
	}
}

// WithLogger sets the logger of the VCR and of its cassettes.
func WithLogger(logger *slog.Logger) Setting {
	return func(vcrSettings *VCRSettings) {
		vcrSettings.logger = logger
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider used to trace round trips.
// The default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Setting {
	return func(vcrSettings *VCRSettings) {
		vcrSettings.tracerProvider = tp
	}
}

// WithCassetteDefaults sets the cassette settings inherited by every cassette inserted
// into the VCR.
func WithCassetteDefaults(settings ...CassetteSetting) Setting {
	return func(vcrSettings *VCRSettings) {
		vcrSettings.cassetteDefaults = append(vcrSettings.cassetteDefaults, settings...)
	}
}

// WithCassette is an optional functional parameter to provide a VCR with
// a cassette to insert.
// Cassette settings override the VCR cassette defaults.
func WithCassette(cassetteName string, settings ...CassetteSetting) Setting {
	return func(vcrSettings *VCRSettings) {
		vcrSettings.cassetteName = cassetteName
		vcrSettings.cassetteSettings = settings
	}
}

// WithMatcher registers a custom matcher under name.
func WithMatcher(name string, m Matcher) Setting {
	return func(vcrSettings *VCRSettings) {
		vcrSettings.registrations = append(vcrSettings.registrations, func(r *MatcherRegistry) error {
			r.Register(name, m)
			return nil
		})
	}
}

// WithExpressionMatcher registers a CEL expression matcher under name.
// See NewExpressionMatcher.
func WithExpressionMatcher(name, expression string) Setting {
	return func(vcrSettings *VCRSettings) {
		vcrSettings.registrations = append(vcrSettings.registrations, func(r *MatcherRegistry) error {
			return errors.Wrapf(r.RegisterExpression(name, expression), "matcher '%s'", name)
		})
	}
}

// CrypterFactory produces the crypter of a cassette when it is inserted.
type CrypterFactory func() (cassette.Crypter, error)

// CassetteSettings holds the configuration of a cassette.
// A nil field is unset: it inherits the VCR default, and then the built-in default.
type CassetteSettings struct {
	Root                 *string
	Matchers             []string `copier:"-"`
	RecordMode           *cassette.RecordMode
	PlaybackMode         *cassette.PlaybackMode
	Filters              filter.Set `copier:"-"`
	BeforeRecordRequest  cassette.RequestHook
	BeforeRecordResponse cassette.ResponseHook
	Store                fileio.Store
	Crypter              CrypterFactory
	CompressThreshold    *int
	AutoSave             *bool
	SortLists            *bool
}

// CassetteSetting allows to modify a cassette configuration.
type CassetteSetting func(settings *CassetteSettings)

// NewCassetteSettings applies settings to a blank configuration.
func NewCassetteSettings(settings ...CassetteSetting) CassetteSettings {
	var s CassetteSettings

	for _, setting := range settings {
		setting(&s)
	}

	return s
}

// Merge returns the configuration where every field set in overrides wins and every
// unset field is inherited from s. Neither s nor overrides is modified.
func (s CassetteSettings) Merge(overrides CassetteSettings) (CassetteSettings, error) {
	var merged CassetteSettings

	opt := copier.Option{IgnoreEmpty: true}

	// copying the defaults first gives merged its own pointers, so the overrides
	// never write through to the defaults.
	if err := copier.CopyWithOption(&merged, &s, opt); err != nil {
		return CassetteSettings{}, errors.Wrap(err, "copy cassette defaults")
	}

	if err := copier.CopyWithOption(&merged, &overrides, opt); err != nil {
		return CassetteSettings{}, errors.Wrap(err, "copy cassette overrides")
	}

	// an empty, non-nil selection is set: it matches everything.
	switch {
	case overrides.Matchers != nil:
		merged.Matchers = append([]string{}, overrides.Matchers...)
	case s.Matchers != nil:
		merged.Matchers = append([]string{}, s.Matchers...)
	}

	merged.Filters = filter.Merge(s.Filters, overrides.Filters)

	return merged, nil
}

// WithCassettesRoot sets the directory (or bucket prefix) cassette names are relative to.
func WithCassettesRoot(root string) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Root = &root
	}
}

// WithMatchers selects the registered matchers a request must satisfy to play a chapter.
// Calling it with no names selects no matcher: every request matches.
func WithMatchers(names ...string) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Matchers = append([]string{}, names...)
	}
}

// WithRecordMode sets the record mode of the cassette.
func WithRecordMode(mode cassette.RecordMode) CassetteSetting {
	return func(s *CassetteSettings) {
		s.RecordMode = &mode
	}
}

// WithPlaybackMode sets the playback mode of the cassette.
func WithPlaybackMode(mode cassette.PlaybackMode) CassetteSetting {
	return func(s *CassetteSettings) {
		s.PlaybackMode = &mode
	}
}

// WithHostFilter only records requests to the hosts listed.
// A host of the form "*.example.com" matches any sub-domain of example.com.
func WithHostFilter(hosts ...string) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Filters.Host.SetStatic(hosts)
	}
}

// WithHostFilterFunc only records requests whose host is accepted by fn.
func WithHostFilterFunc(fn filter.HostFunc) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Filters.Host.SetDynamic(fn)
	}
}

// WithPathFilter replaces recorded paths found in replacements.
func WithPathFilter(replacements map[string]string) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Filters.Path.SetStatic(replacements)
	}
}

// WithPathFilterFunc rewrites recorded paths with fn.
func WithPathFilterFunc(fn filter.PathFunc) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Filters.Path.SetDynamic(fn)
	}
}

// WithQueryFilter replaces the recorded query parameters found in replacements.
// A body.Remove replacement deletes the parameter.
func WithQueryFilter(replacements map[string]interface{}) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Filters.Query.SetStatic(replacements)
	}
}

// WithQueryFilterFunc rewrites recorded query parameters with fn.
func WithQueryFilterFunc(fn filter.ValuesFunc) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Filters.Query.SetDynamic(fn)
	}
}

// WithHeaderFilter replaces the recorded request headers found in replacements.
// A body.Remove replacement deletes the header.
func WithHeaderFilter(replacements map[string]interface{}) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Filters.Header.SetStatic(replacements)
	}
}

// WithHeaderFilterFunc rewrites recorded request headers with fn.
func WithHeaderFilterFunc(fn filter.HeaderFunc) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Filters.Header.SetDynamic(fn)
	}
}

// WithRequestBodyFilter replaces the keys of recorded JSON or form request bodies.
// A body.Remove replacement deletes the key.
func WithRequestBodyFilter(replacements map[string]interface{}) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Filters.RequestBody.SetStatic(replacements)
	}
}

// WithRequestBodyFilterFunc rewrites recorded request bodies with fn.
func WithRequestBodyFilterFunc(fn filter.BodyFunc) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Filters.RequestBody.SetDynamic(fn)
	}
}

// WithResponseBodyFilter replaces the keys of recorded JSON or form response bodies.
func WithResponseBodyFilter(replacements map[string]interface{}) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Filters.ResponseBody.SetStatic(replacements)
	}
}

// WithResponseBodyFilterFunc rewrites recorded response bodies with fn.
func WithResponseBodyFilterFunc(fn filter.BodyFunc) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Filters.ResponseBody.SetDynamic(fn)
	}
}

// WithBeforeRecordRequest sets the last hook applied to a request before it is recorded.
func WithBeforeRecordRequest(hook cassette.RequestHook) CassetteSetting {
	return func(s *CassetteSettings) {
		s.BeforeRecordRequest = hook
	}
}

// WithBeforeRecordResponse sets the last hook applied to a response before it is recorded.
func WithBeforeRecordResponse(hook cassette.ResponseHook) CassetteSetting {
	return func(s *CassetteSettings) {
		s.BeforeRecordResponse = hook
	}
}

// WithStore sets the storage the cassette is persisted to.
func WithStore(store fileio.Store) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Store = store
	}
}

// WithCrypter encrypts the cassette with crypter.
func WithCrypter(crypter cassette.Crypter) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Crypter = func() (cassette.Crypter, error) {
			return crypter, nil
		}
	}
}

// WithCassetteCrypto encrypts the cassette with AES-GCM and the key held in keyFile.
// The key file is read when the cassette is inserted.
func WithCassetteCrypto(keyFile string) CassetteSetting {
	return withKeyFile(keyFile, encryption.AESGCM)
}

// WithCassetteCryptoChaCha20Poly1305 encrypts the cassette with XChaCha20-Poly1305 and
// the key held in keyFile.
func WithCassetteCryptoChaCha20Poly1305(keyFile string) CassetteSetting {
	return withKeyFile(keyFile, encryption.ChaCha20Poly1305)
}

func withKeyFile(keyFile string, c encryption.Cipher) CassetteSetting {
	return func(s *CassetteSettings) {
		s.Crypter = func() (cassette.Crypter, error) {
			key, err := os.ReadFile(keyFile)
			if err != nil {
				return nil, vcrerr.Wrapf(vcrerr.ErrInvalidConfiguration, err, "read cassette key file")
			}

			crypter, err := encryption.New(c, key)
			if err != nil {
				return nil, vcrerr.Wrapf(vcrerr.ErrInvalidConfiguration, err, "cassette crypter")
			}

			return crypter, nil
		}
	}
}

// WithCompressThreshold gzips recorded bodies larger than threshold bytes.
// Zero or less disables body compression.
func WithCompressThreshold(threshold int) CassetteSetting {
	return func(s *CassetteSettings) {
		s.CompressThreshold = &threshold
	}
}

// WithAutoSave controls whether the cassette is saved after each recorded chapter.
// Ejecting the cassette always saves it.
func WithAutoSave(autoSave bool) CassetteSetting {
	return func(s *CassetteSettings) {
		s.AutoSave = &autoSave
	}
}

// WithSortedLists makes the query and body matchers compare lists regardless of order.
func WithSortedLists(sortLists bool) CassetteSetting {
	return func(s *CassetteSettings) {
		s.SortLists = &sortLists
	}
}
