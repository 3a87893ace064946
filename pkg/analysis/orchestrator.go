package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/telecheck/platform/pkg/common/httpclient"
	"github.com/telecheck/platform/pkg/common/logger"
	"github.com/telecheck/platform/pkg/common/models"
	"github.com/telecheck/platform/pkg/eligibility"
	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateIdle            State = "idle"
	StateDataUpload      State = "data-upload"
	StateFilterSelection State = "filter-selection"
	StateAnalyzing       State = "analyzing"
	StateComplete        State = "complete"
	StateError           State = "error"
)

var (
	ErrRemoteFailure      = errors.New("eligibility service unavailable")
	ErrTimeout            = errors.New("analysis deadline exceeded")
	ErrAnalysisInProgress = errors.New("analysis already running")
)

type Options struct {
	ChunkSize      int
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Deadline       time.Duration
	MaxConcurrency int
	Thresholds     RiskThresholds
}

func (o *Options) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1000
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 2 * time.Second
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 8 * time.Second
	}
	if o.Deadline <= 0 {
		o.Deadline = 2 * time.Minute
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 4
	}
	if o.Thresholds == (RiskThresholds{}) {
		o.Thresholds = DefaultThresholds()
	}
}

// Orchestrator drives one analysis run through its phase state machine and
// owns the retrying remote call. A run is all-or-nothing: no partial results
// survive a failure, and a failed run leaves the inputs untouched so the
// caller can simply invoke StartAnalysis again.
type Orchestrator struct {
	client eligibility.Client
	opts   Options
	now    func() time.Time

	mu      sync.Mutex
	state   State
	dataset *models.PostcodeDataset
	filters models.AnalysisFilters
	result  *models.AnalysisResult
	lastErr string
}

func NewOrchestrator(client eligibility.Client, opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		client: client,
		opts:   opts,
		now:    time.Now,
		state:  StateIdle,
	}
}

// SetClock overrides the time source. Tests only.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Result() *models.AnalysisResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// SetDataset records the uploaded dataset and advances to data-upload.
func (o *Orchestrator) SetDataset(dataset *models.PostcodeDataset) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dataset = dataset
	o.state = StateDataUpload
}

// SetFilters records the metric selection and advances to filter-selection.
func (o *Orchestrator) SetFilters(filters models.AnalysisFilters) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.filters = filters
	o.state = StateFilterSelection
}

// Reset returns to idle, discarding per-run state. Session-cached data lives
// elsewhere and is unaffected.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = StateIdle
	o.dataset = nil
	o.filters = models.AnalysisFilters{}
	o.result = nil
	o.lastErr = ""
}

// StartAnalysis runs the full pipeline: remote eligibility resolution with
// retry and chunked fan-out, then aggregation. The orchestrator only reaches
// complete once aggregation succeeds; an aggregation error fails the run the
// same way a remote failure does.
func (o *Orchestrator) StartAnalysis(ctx context.Context, dataset *models.PostcodeDataset, filters models.AnalysisFilters) (*models.AnalysisResult, error) {
	o.mu.Lock()
	if o.state == StateAnalyzing {
		o.mu.Unlock()
		return nil, ErrAnalysisInProgress
	}
	o.state = StateAnalyzing
	o.dataset = dataset
	o.filters = filters
	o.result = nil
	o.lastErr = ""
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, o.opts.Deadline)
	defer cancel()

	rows, err := o.fetchEligibility(ctx, dataset)
	if err != nil {
		return nil, o.fail(classify(ctx, err))
	}

	result, err := Aggregate(dataset.Entries, rows, o.now(), o.opts.Thresholds)
	if err != nil {
		return nil, o.fail(err)
	}

	o.mu.Lock()
	o.state = StateComplete
	o.result = result
	o.mu.Unlock()

	logger.Log.WithFields(map[string]interface{}{
		"analysis_id":    result.AnalysisID,
		"total_patients": result.PatientSummary.TotalPatients,
		"total_eligible": result.PatientSummary.TotalEligible,
	}).Info("analysis complete")

	return result, nil
}

func (o *Orchestrator) fail(err error) error {
	o.mu.Lock()
	o.state = StateError
	o.lastErr = err.Error()
	o.mu.Unlock()
	logger.Log.WithError(err).Error("analysis failed")
	return err
}

// fetchEligibility resolves the full postcode list, batching above the chunk
// threshold. Chunks run concurrently but land in an index-addressed slice, so
// recombination order never depends on network timing.
func (o *Orchestrator) fetchEligibility(ctx context.Context, dataset *models.PostcodeDataset) ([]models.PostcodeEligibility, error) {
	postcodes := make([]string, len(dataset.Entries))
	for i, entry := range dataset.Entries {
		postcodes[i] = entry.Postcode
	}

	if len(postcodes) <= o.opts.ChunkSize {
		return o.checkWithRetry(ctx, postcodes)
	}

	chunkCount := (len(postcodes) + o.opts.ChunkSize - 1) / o.opts.ChunkSize
	chunked := make([][]models.PostcodeEligibility, chunkCount)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.opts.MaxConcurrency)

	for i := 0; i < chunkCount; i++ {
		start := i * o.opts.ChunkSize
		end := start + o.opts.ChunkSize
		if end > len(postcodes) {
			end = len(postcodes)
		}
		i := i
		group.Go(func() error {
			rows, err := o.checkWithRetry(groupCtx, postcodes[start:end])
			if err != nil {
				return err
			}
			chunked[i] = rows
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	combined := make([]models.PostcodeEligibility, 0, len(postcodes))
	for _, rows := range chunked {
		combined = append(combined, rows...)
	}
	return combined, nil
}

func (o *Orchestrator) checkWithRetry(ctx context.Context, postcodes []string) ([]models.PostcodeEligibility, error) {
	var rows []models.PostcodeEligibility
	attempt := 0
	err := httpclient.Retry(ctx, o.opts.RetryAttempts, o.opts.RetryBaseDelay, o.opts.RetryMaxDelay, retriable, func() error {
		attempt++
		result, callErr := o.client.CheckPostcodes(ctx, postcodes)
		if callErr != nil {
			logger.Log.WithError(callErr).WithFields(map[string]interface{}{
				"attempt":   attempt,
				"postcodes": len(postcodes),
			}).Warn("eligibility call failed")
			return callErr
		}
		rows = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// retriable: everything except a definitive bad-input rejection.
func retriable(err error) bool {
	return !errors.Is(err, eligibility.ErrBadInput)
}

func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %v", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, eligibility.ErrBadInput):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrRemoteFailure, err)
	}
}
