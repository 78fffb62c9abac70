package cassette

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/seborama/scenevcr/cassette/scene"
	"github.com/seborama/scenevcr/compression"
	vcrerr "github.com/seborama/scenevcr/errors"
)

// FormatVersion is the version of the cassette document written by this package.
const FormatVersion = "1.0.0"

// supportedVersions are the document versions this package can read.
const supportedVersions = "^1"

const encryptedCassetteHeader = "$ENC:V2$"

type document struct {
	Version  string                `json:"version" yaml:"version"`
	Chapters []scene.ChapterRecord `json:"chapters" yaml:"chapters"`
}

type format int

const (
	formatJSON format = iota
	formatYAML
)

// IsLongPlay returns true if the cassette content is compressed.
func IsLongPlay(name string) bool {
	return strings.HasSuffix(name, ".gz")
}

func formatOf(name string) format {
	switch strings.ToLower(filepath.Ext(strings.TrimSuffix(name, ".gz"))) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

// normaliseName appends the default '.json' extension to a cassette name without one.
func normaliseName(name string) string {
	base := strings.TrimSuffix(name, ".gz")
	if filepath.Ext(base) != "" {
		return name
	}

	if IsLongPlay(name) {
		return base + ".json.gz"
	}

	return name + ".json"
}

// LoadCassette loads a cassette from its store, or creates a blank cassette when
// none exists. With RecordAll, the stored cassette is not read: it will be replaced.
// A cassette that cannot be decoded fails with ErrCorruptCassette.
func LoadCassette(ctx context.Context, name string, options ...Option) (*Cassette, error) {
	k7 := newCassette(normaliseName(name), options...)

	notExist, err := k7.store.NotExist(ctx, k7.name)
	if err != nil {
		return nil, errors.Wrapf(err, "cassette '%s'", k7.name)
	}

	k7.existed = !notExist

	if !k7.existed || k7.recordMode == RecordAll {
		k7.logger.Debug("blank cassette",
			slog.String("cassette", k7.name),
			slog.Bool("existed", k7.existed),
			slog.String("record_mode", k7.recordMode.String()))
		return k7, nil
	}

	data, err := k7.store.ReadFile(ctx, k7.name)
	if errors.Is(err, fs.ErrNotExist) {
		// removed since NotExist
		k7.existed = false
		return k7, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cassette '%s'", k7.name)
	}

	chapters, err := k7.unmarshal(data)
	if err != nil {
		return nil, vcrerr.Wrapf(vcrerr.ErrCorruptCassette, err, "cassette '%s'", k7.name)
	}

	for _, ch := range chapters {
		k7.chapters = append(k7.chapters, &chapterState{chapter: ch})
		k7.ids[ch.ID] = struct{}{}
	}
	k7.chaptersLoaded = int32(len(chapters))

	k7.logger.Debug("cassette loaded",
		slog.String("cassette", k7.name),
		slog.Int("chapters", len(chapters)))

	return k7, nil
}

// Save writes the cassette to its store, as permitted by the record mode:
// RecordNone never writes, RecordAll always writes and the other modes write only
// when new chapters were recorded since the last save.
func (k7 *Cassette) Save(ctx context.Context) error {
	k7.saveMu.Lock()
	defer k7.saveMu.Unlock()

	k7.mu.Lock()
	if !k7.needsSave() {
		k7.mu.Unlock()
		return nil
	}

	chapters := make([]scene.Chapter, len(k7.chapters))
	for i, cs := range k7.chapters {
		chapters[i] = cs.chapter.Clone()
	}
	k7.dirty = false
	k7.mu.Unlock()

	if err := k7.write(ctx, k7.name, chapters); err != nil {
		k7.mu.Lock()
		k7.dirty = true
		k7.mu.Unlock()
		return err
	}

	k7.logger.Debug("cassette saved",
		slog.String("cassette", k7.name),
		slog.Int("chapters", len(chapters)))

	return nil
}

func (k7 *Cassette) needsSave() bool {
	switch k7.recordMode {
	case RecordNone:
		return false
	case RecordAll:
		return true
	default:
		return k7.dirty
	}
}

// CopyTo writes the chapters of the cassette to a new cassette called name, regardless
// of the record mode. The options select the destination's store, crypter and body
// compression; the format follows the name's extension.
func (k7 *Cassette) CopyTo(ctx context.Context, name string, options ...Option) error {
	dst := newCassette(normaliseName(name), options...)

	return dst.write(ctx, dst.name, k7.Chapters())
}

func (k7 *Cassette) write(ctx context.Context, name string, chapters []scene.Chapter) error {
	data, err := k7.marshal(name, chapters)
	if err != nil {
		return err
	}

	if err = k7.store.MkdirAll(ctx, filepath.Dir(name), 0o750); err != nil {
		return errors.Wrapf(err, "cassette '%s'", name)
	}

	return errors.Wrapf(k7.store.WriteFile(ctx, name, data, 0o640), "cassette '%s'", name)
}

func (k7 *Cassette) marshal(name string, chapters []scene.Chapter) ([]byte, error) {
	doc := document{
		Version:  FormatVersion,
		Chapters: make([]scene.ChapterRecord, 0, len(chapters)),
	}

	for _, ch := range chapters {
		rec, err := k7.encoder.EncodeChapter(ch)
		if err != nil {
			return nil, err
		}
		doc.Chapters = append(doc.Chapters, rec)
	}

	var (
		data []byte
		err  error
	)

	switch formatOf(name) {
	case formatYAML:
		data, err = yaml.Marshal(doc)
	default:
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return nil, errors.Wrap(err, "encode cassette")
	}

	if IsLongPlay(name) {
		if data, err = compression.Compress(data); err != nil {
			return nil, errors.Wrap(err, "compress cassette")
		}
	}

	if k7.crypter != nil {
		return k7.encrypt(data)
	}

	return data, nil
}

func (k7 *Cassette) unmarshal(data []byte) ([]scene.Chapter, error) {
	var err error

	if bytes.HasPrefix(data, []byte(encryptedCassetteHeader)) {
		if data, err = k7.decrypt(data); err != nil {
			return nil, err
		}
	}

	if compression.IsCompressed(data) {
		if data, err = compression.Decompress(data); err != nil {
			return nil, errors.Wrap(err, "decompress cassette")
		}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var doc document

	switch formatOf(k7.name) {
	case formatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err = dec.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode YAML cassette")
		}

	default:
		if err = validateJSONDocument(data); err != nil {
			return nil, err
		}
		if err = json.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrap(err, "decode JSON cassette")
		}
	}

	if err = checkVersion(doc.Version); err != nil {
		return nil, err
	}

	chapters := make([]scene.Chapter, 0, len(doc.Chapters))
	seen := make(map[string]struct{}, len(doc.Chapters))

	for i := range doc.Chapters {
		ch, err := scene.DecodeChapter(doc.Chapters[i])
		if err != nil {
			return nil, errors.Wrapf(err, "chapter %d", i)
		}

		if _, dup := seen[ch.ID]; dup {
			return nil, vcrerr.Kindf(vcrerr.ErrFormat, "duplicate chapter '%s'", ch.ID)
		}
		seen[ch.ID] = struct{}{}

		chapters = append(chapters, ch)
	}

	return chapters, nil
}

// encrypt wraps data in the encrypted cassette envelope:
// header, nonce length (1 byte), nonce, ciphertext.
func (k7 *Cassette) encrypt(data []byte) ([]byte, error) {
	ciphertext, nonce, err := k7.crypter.Encrypt(data)
	if err != nil {
		return nil, errors.Wrap(err, "encrypt cassette")
	}

	if len(nonce) > 255 {
		return nil, errors.Errorf("nonce too long: %d bytes", len(nonce))
	}

	header := append([]byte(encryptedCassetteHeader), byte(len(nonce)))
	header = append(header, nonce...)

	return append(header, ciphertext...), nil
}

func (k7 *Cassette) decrypt(data []byte) ([]byte, error) {
	if k7.crypter == nil {
		return nil, vcrerr.Kindf(vcrerr.ErrInvalidConfiguration, "cassette is encrypted but no crypter is configured")
	}

	data = data[len(encryptedCassetteHeader):]
	if len(data) == 0 {
		return nil, errors.New("truncated encrypted cassette")
	}

	nonceLen := int(data[0])
	if len(data) < 1+nonceLen {
		return nil, errors.New("truncated encrypted cassette")
	}

	nonce := data[1 : 1+nonceLen]
	ciphertext := data[1+nonceLen:]

	plaintext, err := k7.crypter.Decrypt(ciphertext, nonce)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt cassette")
	}

	return plaintext, nil
}

func checkVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return vcrerr.Kindf(vcrerr.ErrFormat, "cassette version '%s': %s", version, err)
	}

	constraint, err := semver.NewConstraint(supportedVersions)
	if err != nil {
		return errors.WithStack(err)
	}

	if !constraint.Check(v) {
		return vcrerr.Kindf(vcrerr.ErrFormat, "unsupported cassette version '%s' (supported: '%s')", version, supportedVersions)
	}

	return nil
}

var (
	documentSchemaOnce sync.Once
	documentSchema     *jsonschema.Schema
	documentSchemaErr  error
)

func validateJSONDocument(data []byte) error {
	documentSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020

		if err := c.AddResource(documentSchemaURL, strings.NewReader(documentSchemaJSON)); err != nil {
			documentSchemaErr = errors.WithStack(err)
			return
		}

		documentSchema, documentSchemaErr = c.Compile(documentSchemaURL)
	})
	if documentSchemaErr != nil {
		return errors.Wrap(documentSchemaErr, "cassette schema")
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return vcrerr.Kindf(vcrerr.ErrFormat, "invalid JSON: %s", err)
	}

	if err := documentSchema.Validate(v); err != nil {
		return vcrerr.Kindf(vcrerr.ErrFormat, "%s", err)
	}

	return nil
}
