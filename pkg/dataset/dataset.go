package dataset

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samber/oops"
	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/sec-certs/certdb/pkg/auxiliary"
	"github.com/sec-certs/certdb/pkg/config"
	"github.com/sec-certs/certdb/pkg/convert"
	"github.com/sec-certs/certdb/pkg/download"
	"github.com/sec-certs/certdb/pkg/extract"
	"github.com/sec-certs/certdb/pkg/fetch"
	"github.com/sec-certs/certdb/pkg/heuristics"
	"github.com/sec-certs/certdb/pkg/log"
	"github.com/sec-certs/certdb/pkg/refs"
	"github.com/sec-certs/certdb/pkg/scrape/cc"
	"github.com/sec-certs/certdb/pkg/scrape/fips"
	"github.com/sec-certs/certdb/pkg/storage"
	"github.com/sec-certs/certdb/pkg/types"
	"github.com/sec-certs/certdb/pkg/utils"
)

// Stage precondition errors. Each one names the stage that has to run
// before the failing one can.
var (
	ErrNotBuilt        = xerrors.New("certificates not scraped yet, run the build stage first")
	ErrNotDownloaded   = xerrors.New("artifacts not downloaded yet, run the download stage first")
	ErrNotConverted    = xerrors.New("PDFs not converted yet, run the convert stage first")
	ErrAuxNotProcessed = xerrors.New("auxiliary datasets not processed yet, run the process-aux-dsets stage first")
)

// InternalState records which pipeline stages have completed. It is
// serialized with the dataset so a reloaded dataset resumes where it
// left off.
type InternalState struct {
	MetaSourcesParsed          bool `json:"meta_sources_parsed"`
	ArtifactsDownloaded        bool `json:"artifacts_downloaded"`
	PdfsConverted              bool `json:"pdfs_converted"`
	AuxiliaryDatasetsProcessed bool `json:"auxiliary_datasets_processed"`
	CertsAnalyzed              bool `json:"certs_analyzed"`
}

// Scraper produces the initial certificate map from a scheme's index
// pages.
type Scraper interface {
	Scrape(ctx context.Context) (map[string]types.Certificate, error)
}

// Dataset is the staged pipeline controller and the unit of
// serialization. All state lives in the certificate map and the
// internal state flags; the remaining fields are rebuilt on load.
type Dataset struct {
	Name        string
	Description string
	Scheme      types.Scheme
	Timestamp   time.Time
	State       InternalState
	Certs       map[string]types.Certificate

	cfg      config.Config
	layout   storage.Layout
	jsonPath string
	client   *fetch.Client
	registry *auxiliary.Registry
	scraper  Scraper
	clock    clock.Clock
	logger   *log.Logger
}

type Option func(*Dataset)

// WithClock overrides the timestamp source.
func WithClock(c clock.Clock) Option {
	return func(d *Dataset) {
		d.clock = c
	}
}

// WithScraper overrides the index scraper.
func WithScraper(s Scraper) Option {
	return func(d *Dataset) {
		d.scraper = s
	}
}

// WithClient overrides the HTTP client shared by all stages.
func WithClient(c *fetch.Client) Option {
	return func(d *Dataset) {
		d.client = c
	}
}

// New creates an empty dataset rooted at dir. The root tree is not
// touched until the first stage runs.
func New(scheme types.Scheme, name, description, dir string, cfg config.Config, opts ...Option) *Dataset {
	d := &Dataset{
		Name:        name,
		Description: description,
		Scheme:      scheme,
		Certs:       make(map[string]types.Certificate),
		cfg:         cfg,
		layout:      storage.NewLayout(dir),
		clock:       clock.RealClock{},
		logger:      log.WithPrefix("dataset"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.bind()
	return d
}

// bind builds the runtime collaborators that are not serialized.
func (d *Dataset) bind() {
	if d.client == nil {
		d.client = fetch.NewClient(
			fetch.WithTimeout(d.cfg.HTTPTimeout),
			fetch.WithWorkers(d.cfg.NumWorkers),
			fetch.WithProgress(d.cfg.Progress),
		)
	}
	if d.scraper == nil {
		switch d.Scheme {
		case types.SchemeFIPS:
			d.scraper = fips.NewScraper(d.client, d.layout)
		default:
			d.scraper = cc.NewScraper(d.client, d.layout)
		}
	}
	if d.registry == nil {
		d.registry = auxiliary.NewRegistry(d.Scheme, d.cfg, d.client)
	}
	d.registry.SetLocalPaths(d.layout)
}

// Root returns the dataset root directory.
func (d *Dataset) Root() string { return d.layout.Root }

// Registry exposes the auxiliary dataset handlers of this run.
func (d *Dataset) Registry() *auxiliary.Registry { return d.registry }

// JSONPath returns the dataset serialization location. A dataset loaded
// with FromJSON keeps writing to the file it was loaded from, so a
// compressed serialization stays compressed across checkpoints.
func (d *Dataset) JSONPath() string {
	if d.jsonPath != "" {
		return d.jsonPath
	}
	return d.layout.DatasetPath(d.Name)
}

// Build scrapes the scheme's index pages into the certificate map and
// marks the metadata stage done. Rebuilding replaces the map wholesale.
func (d *Dataset) Build(ctx context.Context) error {
	eb := oops.With("scheme", string(d.Scheme))
	if err := d.layout.EnsureDirs(); err != nil {
		return eb.Wrap(err)
	}

	certs, err := d.scraper.Scrape(ctx)
	if err != nil {
		return eb.Wrapf(err, "index scrape error")
	}
	d.Certs = certs
	d.State = InternalState{MetaSourcesParsed: true}

	d.logger.Info("Index scrape finished", log.Int("certs", len(certs)))
	return d.Save()
}

// DownloadAllArtifacts fetches every artifact PDF (and the FIPS module
// detail pages) recorded by the build stage. With fresh, artifacts with
// a prior successful download are fetched again.
func (d *Dataset) DownloadAllArtifacts(ctx context.Context, fresh bool) error {
	if !d.State.MetaSourcesParsed {
		return xerrors.Errorf("download stage: %w", ErrNotBuilt)
	}

	if err := download.NewDownloader(d.client).DownloadAll(ctx, d.Certs, d.layout, fresh); err != nil {
		return oops.Wrapf(err, "artifact download error")
	}
	d.State.ArtifactsDownloaded = true
	return d.Save()
}

// ConvertAllPdfs converts downloaded artifact PDFs to text, falling
// back to OCR for garbage conversions.
func (d *Dataset) ConvertAllPdfs(ctx context.Context, fresh bool) error {
	if !d.State.ArtifactsDownloaded {
		return xerrors.Errorf("convert stage: %w", ErrNotDownloaded)
	}

	converter := convert.NewConverter(
		convert.WithWorkers(d.cfg.NumWorkers),
		convert.WithGarbageThreshold(d.cfg.GarbageAlphaPerKB),
	)
	if err := converter.ConvertAll(ctx, d.Certs, d.layout, fresh); err != nil {
		return oops.Wrapf(err, "conversion error")
	}
	d.State.PdfsConverted = true
	return d.Save()
}

// ProcessAuxiliaryDatasets builds or refreshes every auxiliary dataset
// of the scheme. Handlers deriving from the certificates themselves see
// the current map.
func (d *Dataset) ProcessAuxiliaryDatasets(ctx context.Context, fresh bool) error {
	if !d.State.MetaSourcesParsed {
		return xerrors.Errorf("process-aux-dsets stage: %w", ErrNotBuilt)
	}

	for _, h := range d.registry.Handlers() {
		if bound, ok := h.(auxiliary.CertBound); ok {
			bound.BindCerts(d.Certs)
		}
	}
	if err := d.registry.ProcessAll(ctx, fresh); err != nil {
		return oops.Wrapf(err, "auxiliary dataset error")
	}
	d.State.AuxiliaryDatasetsProcessed = true
	return d.Save()
}

// AnalyzeCertificates runs extraction, reference resolution and the
// CPE/CVE heuristics over the converted corpus.
func (d *Dataset) AnalyzeCertificates(ctx context.Context, fresh bool) error {
	if !d.State.PdfsConverted {
		return xerrors.Errorf("analyze stage: %w", ErrNotConverted)
	}
	if !d.State.AuxiliaryDatasetsProcessed {
		return xerrors.Errorf("analyze stage: %w", ErrAuxNotProcessed)
	}
	if err := d.registry.LoadAll(ctx); err != nil {
		return oops.Wrapf(err, "auxiliary dataset load error")
	}

	extractor := extract.NewExtractor(extract.WithWorkers(d.cfg.NumWorkers))
	if err := extractor.ExtractAll(ctx, d.Certs, d.layout, fresh); err != nil {
		return oops.Wrapf(err, "extraction error")
	}

	var resolverOpts []refs.Option
	if algorithms := d.fipsAlgorithms(); algorithms != nil {
		resolverOpts = append(resolverOpts, refs.WithAlgorithms(algorithms))
	}
	refs.NewResolver(d.cfg, resolverOpts...).ResolveAll(d.Certs)

	heuristics.NewEngine(d.cpeDataset(), d.cveDataset(), d.cpeMatchDict()).Analyze(d.Certs)

	d.State.CertsAnalyzed = true
	return d.Save()
}

// RunAll runs the whole pipeline in stage order.
func (d *Dataset) RunAll(ctx context.Context, fresh bool) error {
	if err := d.Build(ctx); err != nil {
		return err
	}
	if err := d.DownloadAllArtifacts(ctx, fresh); err != nil {
		return err
	}
	if err := d.ConvertAllPdfs(ctx, fresh); err != nil {
		return err
	}
	if err := d.ProcessAuxiliaryDatasets(ctx, fresh); err != nil {
		return err
	}
	return d.AnalyzeCertificates(ctx, fresh)
}

func (d *Dataset) fipsAlgorithms() *auxiliary.FIPSAlgorithmDataset {
	if h, ok := d.registry.Handler(auxiliary.TypeFIPSAlgorithm).(*auxiliary.FIPSAlgorithmHandler); ok {
		return h.Dataset()
	}
	return nil
}

func (d *Dataset) cpeDataset() *auxiliary.CPEDataset {
	if h, ok := d.registry.Handler(auxiliary.TypeCPE).(*auxiliary.CPEHandler); ok {
		return h.Dataset()
	}
	return nil
}

func (d *Dataset) cveDataset() *auxiliary.CVEDataset {
	if h, ok := d.registry.Handler(auxiliary.TypeCVE).(*auxiliary.CVEHandler); ok {
		return h.Dataset()
	}
	return nil
}

func (d *Dataset) cpeMatchDict() *auxiliary.CPEMatchDict {
	if h, ok := d.registry.Handler(auxiliary.TypeCPEMatch).(*auxiliary.CPEMatchHandler); ok {
		return h.Dataset()
	}
	return nil
}

// Save atomically rewrites the dataset JSON next to the artifacts and
// refreshes the timestamp. Every stage ends with a Save, so a cancelled
// run keeps its last completed checkpoint.
func (d *Dataset) Save() error {
	d.Timestamp = d.clock.Now().UTC()
	if err := utils.MarshalJSONFile(d, d.JSONPath()); err != nil {
		return oops.With("file_path", d.JSONPath()).Wrapf(err, "dataset write error")
	}
	return nil
}

// datasetJSON is the serialized shape. Certificates are stored as a
// digest-sorted array of tagged objects.
type datasetJSON struct {
	State       InternalState     `json:"state"`
	Timestamp   time.Time         `json:"timestamp"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Scheme      types.Scheme      `json:"scheme"`
	NCerts      int               `json:"n_certs"`
	Certs       []json.RawMessage `json:"certs"`
}

func (d *Dataset) MarshalJSON() ([]byte, error) {
	digests := make([]string, 0, len(d.Certs))
	for digest := range d.Certs {
		digests = append(digests, digest)
	}
	sort.Strings(digests)

	out := datasetJSON{
		State:       d.State,
		Timestamp:   d.Timestamp,
		Name:        d.Name,
		Description: d.Description,
		Scheme:      d.Scheme,
		NCerts:      len(digests),
		Certs:       make([]json.RawMessage, 0, len(digests)),
	}
	for _, digest := range digests {
		data, err := types.MarshalCertificate(d.Certs[digest])
		if err != nil {
			return nil, oops.With("digest", digest).Wrap(err)
		}
		out.Certs = append(out.Certs, data)
	}
	return json.Marshal(out)
}

func (d *Dataset) UnmarshalJSON(data []byte) error {
	var raw datasetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return oops.Wrapf(err, "dataset decode error")
	}

	certs := make(map[string]types.Certificate, len(raw.Certs))
	for i, entry := range raw.Certs {
		cert, err := types.UnmarshalCertificate(entry)
		if err != nil {
			return oops.With("index", i).Wrapf(err, "certificate decode error")
		}
		certs[cert.Digest()] = cert
	}

	d.Name = raw.Name
	d.Description = raw.Description
	d.Scheme = raw.Scheme
	d.Timestamp = raw.Timestamp
	d.State = raw.State
	d.Certs = certs
	return nil
}

// FromJSON loads a serialized dataset and rebinds all local paths to
// the directory the JSON file lives in, so a dataset tree can be moved
// or unpacked anywhere.
func FromJSON(path string, cfg config.Config, opts ...Option) (*Dataset, error) {
	eb := oops.With("file_path", path)

	d := &Dataset{
		cfg:    cfg,
		clock:  clock.RealClock{},
		logger: log.WithPrefix("dataset"),
	}
	if err := utils.UnmarshalJSONFile(d, path); err != nil {
		return nil, eb.Wrapf(err, "dataset read error")
	}
	d.jsonPath = path
	d.layout = storage.NewLayout(filepath.Dir(path))
	for _, opt := range opts {
		opt(d)
	}
	d.bind()
	d.rebindArtifactPaths()
	return d, nil
}

// rebindArtifactPaths recomputes the recorded artifact locations from
// the current root. Only successful stages are rebound; missing
// artifacts keep their cleared state.
func (d *Dataset) rebindArtifactPaths() {
	for digest, cert := range d.Certs {
		state := cert.CertState()
		for _, source := range types.ArtifactSourcesFor(cert.CertScheme()) {
			doc := state.Document(source)
			if doc.DownloadOK {
				doc.PdfPath = d.layout.PdfPath(source, digest)
			}
			if doc.ConvertOK {
				doc.TxtPath = d.layout.TxtPath(source, digest)
			}
		}
	}
}

// FromWeb downloads a prebuilt snapshot archive, unpacks it into dir
// and loads the dataset it contains. The archive is staged in a temp
// directory picked by its advertised size.
func FromWeb(ctx context.Context, url, dir string, cfg config.Config, opts ...Option) (*Dataset, error) {
	eb := oops.With("url", url).With("dir_path", dir)

	client := fetch.NewClient(
		fetch.WithTimeout(cfg.HTTPTimeout),
		fetch.WithProgress(cfg.Progress),
	)
	size, err := client.QuerySize(ctx, url)
	if err != nil {
		log.Debug("Snapshot size unknown", log.String("url", url), log.Err(err))
	}

	tmpDir, err := os.MkdirTemp(storage.TempDirFor(size), "certdb-snapshot-")
	if err != nil {
		return nil, eb.Wrapf(err, "temp dir error")
	}
	defer os.RemoveAll(tmpDir)

	archivePath := filepath.Join(tmpDir, "dataset.tar.gz")
	if status := client.Download(ctx, url, archivePath, 0); !fetch.OK(status) {
		return nil, eb.With("status", status).Errorf("snapshot download failed")
	}
	if err := storage.Untar(archivePath, dir); err != nil {
		return nil, eb.Wrapf(err, "snapshot unpack error")
	}

	jsonPath, err := findDatasetJSON(dir)
	if err != nil {
		return nil, eb.Wrap(err)
	}
	return FromJSON(jsonPath, cfg, opts...)
}

// findDatasetJSON locates the dataset serialization at the top level of
// an unpacked snapshot. Auxiliary dataset files live a level deeper and
// are never candidates.
func findDatasetJSON(dir string) (string, error) {
	for _, pattern := range []string{"*.json", "*.json.gz"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return "", oops.With("dir_path", dir).Wrap(err)
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return matches[0], nil
		}
	}
	return "", oops.With("dir_path", dir).Errorf("no dataset JSON found in snapshot")
}
