// Package submitter orchestrates a complete experiment submission: package
// the workload, encrypt it, register the experiment, upload, wait for
// completion, then download and decrypt the result.
package submitter

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	cache "github.com/pmylund/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/mips-tech/atlasexplorer/api"
	"github.com/mips-tech/atlasexplorer/internal/envelope"
	"github.com/mips-tech/atlasexplorer/internal/gyrfalcon"
	"github.com/mips-tech/atlasexplorer/internal/poller"
	"github.com/mips-tech/atlasexplorer/internal/transfer"
	"github.com/mips-tech/atlasexplorer/internal/workload"
)

// defaultCacheTTL is how long a completed result is served from memory for
// repeated submissions of the same workload and core.
const defaultCacheTTL = 10 * time.Minute

// StageError reports which pipeline stage a submission failed in.
type StageError struct {
	// Stage is one of "resolve", "package", "encrypt", "create", "persist",
	// "upload", "commit", "poll", "download" or "decrypt".
	Stage string
	// ExperimentID is set once an experiment identifier has been assigned.
	ExperimentID string
	// Err is the underlying cause.
	Err error
}

func (e *StageError) Error() string {
	if e.ExperimentID == "" {
		return fmt.Sprintf("submission failed in stage %q: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("experiment %s failed in stage %q: %v", e.ExperimentID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Config assembles a Submitter. Gyrfalcon, ServicePublicKey and
// ResultPrivateKey are required; everything else gets defaults from New.
type Config struct {
	// Gyrfalcon talks to the global API and the channel gateway.
	Gyrfalcon *gyrfalcon.Client
	// Transfer moves bytes to and from signed URLs.
	Transfer *transfer.Client
	// Poller waits for experiment completion.
	Poller *poller.Poller
	// ServicePublicKey encrypts everything uploaded to the service.
	ServicePublicKey *rsa.PublicKey
	// ResultPrivateKey decrypts result packages. Its public half is sent with
	// each experiment so the service can encrypt results to it.
	ResultPrivateKey *rsa.PrivateKey
	// WorkDir is where per-experiment encrypted artifacts are kept. Empty
	// disables persistence.
	WorkDir string
	// CacheTTL bounds how long completed results are served from memory.
	CacheTTL time.Duration

	Clock  clockwork.Clock
	Logger *logrus.Entry
}

// Submitter runs experiment submissions. It is safe for concurrent use;
// identical in-flight submissions are coalesced and completed results are
// cached for a short period.
type Submitter struct {
	client             *gyrfalcon.Client
	transfer           *transfer.Client
	poller             *poller.Poller
	encryptor          *envelope.Encryptor
	decryptor          *envelope.Decryptor
	resultPublicKeyPEM string
	workDir            string
	clock              clockwork.Clock
	log                *logrus.Entry

	group   singleflight.Group
	results *cache.Cache
}

// New creates a Submitter from the given config.
func New(cfg Config) (*Submitter, error) {
	if cfg.Gyrfalcon == nil {
		return nil, fmt.Errorf("cannot create submitter: Gyrfalcon client is required")
	}

	encryptor, err := envelope.NewEncryptor(cfg.ServicePublicKey)
	if err != nil {
		return nil, fmt.Errorf("cannot create submitter: %w", err)
	}
	decryptor, err := envelope.NewDecryptor(cfg.ResultPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("cannot create submitter: %w", err)
	}
	resultPublicKeyPEM, err := envelope.MarshalPublicKey(&cfg.ResultPrivateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("cannot create submitter: %w", err)
	}

	if cfg.Transfer == nil {
		cfg.Transfer = transfer.New(transfer.Config{})
	}
	// Status polls go through the same transfer client as uploads and the
	// result download, so one retry policy covers every signed-URL fetch.
	cfg.Gyrfalcon.SetDownloader(cfg.Transfer)
	if cfg.Poller == nil {
		cfg.Poller = poller.New(poller.Config{})
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.WithField("component", "submitter")
	}

	return &Submitter{
		client:             cfg.Gyrfalcon,
		transfer:           cfg.Transfer,
		poller:             cfg.Poller,
		encryptor:          encryptor,
		decryptor:          decryptor,
		resultPublicKeyPEM: resultPublicKeyPEM,
		workDir:            cfg.WorkDir,
		clock:              cfg.Clock,
		log:                cfg.Logger,
		results:            cache.New(cfg.CacheTTL, cfg.CacheTTL),
	}, nil
}

// Submit runs the workload at workloadPath on the given core and returns the
// decrypted result package. Concurrent submissions of the same workload and
// core share one pipeline run, and a recently completed result is returned
// without resubmitting.
func (s *Submitter) Submit(ctx context.Context, workloadPath, core string) (*api.ResultPackage, error) {
	key, err := submissionKey(workloadPath, core)
	if err != nil {
		return nil, &StageError{Stage: "package", Err: err}
	}

	if cached, ok := s.results.Get(key); ok {
		result := cached.(*api.ResultPackage)
		s.log.WithField("experiment", result.ExperimentID).Debug("returning cached result")
		return result, nil
	}

	result, err, _ := s.group.Do(key, func() (any, error) {
		result, err := s.submit(ctx, workloadPath, core)
		if err != nil {
			return nil, err
		}
		s.results.SetDefault(key, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*api.ResultPackage), nil
}

func (s *Submitter) submit(ctx context.Context, workloadPath, core string) (*api.ResultPackage, error) {
	if s.client.Gateway() == "" {
		if err := s.client.ResolveGateway(ctx); err != nil {
			return nil, &StageError{Stage: "resolve", Err: err}
		}
	}

	experimentID := newExperimentID(s.clock.Now())
	log := s.log.WithField("experiment", experimentID)
	log.WithField("core", core).Info("submitting experiment")

	cfg := workload.NewExperimentConfig(experimentID, filepath.Base(workloadPath), core)
	pkg, err := workload.Pack(cfg, workloadPath)
	if err != nil {
		return nil, &StageError{Stage: "package", ExperimentID: experimentID, Err: err}
	}

	configBytes, err := json.Marshal(pkg.Config)
	if err != nil {
		return nil, &StageError{Stage: "package", ExperimentID: experimentID, Err: err}
	}

	encryptedPackage, err := s.encrypt(pkg.Data)
	if err != nil {
		return nil, &StageError{Stage: "encrypt", ExperimentID: experimentID, Err: err}
	}
	encryptedConfig, err := s.encrypt(configBytes)
	if err != nil {
		return nil, &StageError{Stage: "encrypt", ExperimentID: experimentID, Err: err}
	}

	urls, err := s.client.CreateExperiment(ctx, api.CreateExperimentRequest{
		ExperimentID:       experimentID,
		Workload:           pkg.Workload,
		Core:               core,
		ResultPublicKeyPEM: s.resultPublicKeyPEM,
	})
	if err != nil {
		return nil, &StageError{Stage: "create", ExperimentID: experimentID, Err: err}
	}

	if err := s.persist(experimentID, encryptedPackage, encryptedConfig); err != nil {
		return nil, &StageError{Stage: "persist", ExperimentID: experimentID, Err: err}
	}

	if err := s.transfer.Upload(ctx, urls.Workload, encryptedPackage); err != nil {
		return nil, &StageError{Stage: "upload", ExperimentID: experimentID, Err: err}
	}

	// Uploading the config is the commit point: it creates the job record
	// server-side and starts processing, so it goes last.
	if err := s.transfer.Upload(ctx, urls.Config, encryptedConfig); err != nil {
		return nil, &StageError{Stage: "commit", ExperimentID: experimentID, Err: err}
	}

	log.Info("experiment submitted, waiting for completion")
	_, _, err = s.poller.Wait(ctx, func(ctx context.Context) (*api.StatusResponse, error) {
		return s.client.JobStatus(ctx, urls.Status)
	})
	if err != nil {
		return nil, &StageError{Stage: "poll", ExperimentID: experimentID, Err: err}
	}

	encryptedResult, err := s.transfer.Download(ctx, urls.Result)
	if err != nil {
		return nil, &StageError{Stage: "download", ExperimentID: experimentID, Err: err}
	}

	resultEnvelope, err := envelope.Parse(encryptedResult)
	if err != nil {
		return nil, &StageError{Stage: "decrypt", ExperimentID: experimentID, Err: err}
	}
	resultData, err := s.decryptor.Decrypt(resultEnvelope)
	if err != nil {
		return nil, &StageError{Stage: "decrypt", ExperimentID: experimentID, Err: err}
	}

	checksum := sha256.Sum256(resultData)
	log.WithField("bytes", len(resultData)).Info("experiment completed")

	return &api.ResultPackage{
		ExperimentID: experimentID,
		Data:         resultData,
		Size:         int64(len(resultData)),
		SHA256:       hex.EncodeToString(checksum[:]),
	}, nil
}

// encrypt seals plaintext into a serialized envelope.
func (s *Submitter) encrypt(plaintext []byte) ([]byte, error) {
	sealed, err := s.encryptor.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return envelope.Marshal(sealed)
}

// persist keeps the encrypted artifacts on disk for inspection and
// resubmission. Only ciphertext is written; decrypted results stay in memory.
func (s *Submitter) persist(experimentID string, encryptedPackage, encryptedConfig []byte) error {
	if s.workDir == "" {
		return nil
	}

	dir := filepath.Join(s.workDir, experimentID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "workload.enc"), encryptedPackage, 0o600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.enc"), encryptedConfig, 0o600)
}

// submissionKey derives the coalescing key for a submission from the
// workload contents and the target core.
func submissionKey(workloadPath, core string) (string, error) {
	data, err := os.ReadFile(workloadPath)
	if err != nil {
		return "", fmt.Errorf("failed to read workload: %w", err)
	}
	checksum := sha256.Sum256(data)
	return hex.EncodeToString(checksum[:]) + "/" + core, nil
}

// newExperimentID builds an identifier of the form yymmdd-HHMMSS_<uuid>,
// which keeps experiment directories sortable by submission time.
func newExperimentID(now time.Time) string {
	return now.UTC().Format("060102-150405") + "_" + uuid.NewString()
}
