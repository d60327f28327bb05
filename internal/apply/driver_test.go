package apply

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/browser"
	"github.com/spigell/autoapply/internal/job"
	"github.com/spigell/autoapply/internal/locator"
	"github.com/spigell/autoapply/internal/store"
)

// fakeSession simulates a page with a form and a configurable body text.
type fakeSession struct {
	mu          sync.Mutex
	bodyText    string
	navigateErr error
	onTypeText  func()
	uploads     int
	closed      bool
}

func (f *fakeSession) Navigate(context.Context, string) error { return f.navigateErr }

func (f *fakeSession) QueryElements(_ context.Context, selector string) ([]browser.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if selector == "body" {
		return []browser.Element{{Selector: "body", Text: f.bodyText, Visible: true}}, nil
	}
	return []browser.Element{{Selector: selector, X: 5, Y: 5, Visible: true}}, nil
}

func (f *fakeSession) Screenshot(context.Context) ([]byte, error) { return nil, nil }

func (f *fakeSession) Click(context.Context, browser.Target) error { return nil }

func (f *fakeSession) TypeText(context.Context, string, string) error {
	if f.onTypeText != nil {
		f.onTypeText()
	}
	return nil
}

func (f *fakeSession) UploadFile(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) setBodyText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodyText = text
}

// scriptedResolver returns the scripted errors in order, then targets.
type scriptedResolver struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (r *scriptedResolver) Locate(context.Context, browser.Session, locator.Intent) (browser.Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call := r.calls
	r.calls++
	if call < len(r.errs) && r.errs[call] != nil {
		return browser.Target{}, r.errs[call]
	}
	return browser.Target{X: 10, Y: 10}, nil
}

func testStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "applications.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func driverPosting() *job.Posting {
	return &job.Posting{
		Source:   "remotive",
		SourceID: "42",
		Title:    "Go Developer",
		Company:  "Acme",
		URL:      "https://jobs.test/42",
		PostedAt: time.Now().UTC(),
	}
}

func newTestDriver(t *testing.T, session browser.Session, resolver targetResolver, records *store.Store) *Driver {
	t.Helper()

	driver := NewDriver(DriverDeps{
		Session:    session,
		Locator:    resolver,
		Records:    records,
		Logger:     zap.NewNop(),
		Profile:    Profile{FullName: "Jane Doe", Email: "jane@example.com"},
		ResumePath: "/tmp/resume.pdf",
		MaxRetries: 3,
		Backoff:    time.Millisecond,
	})
	driver.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	return driver
}

func TestDriverHappyPath(t *testing.T) {
	t.Parallel()

	records := testStore(t)
	session := &fakeSession{bodyText: "Thank you for applying!"}
	driver := newTestDriver(t, session, &scriptedResolver{}, records)

	result := driver.Run(context.Background(), driverPosting())

	assert.Equal(t, store.StatusCompleted, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, session.uploads)

	record, err := records.Get(context.Background(), result.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, store.StatusCompleted, record.Status)
}

func TestDriverRetriesLocatorNotFoundThenCompletes(t *testing.T) {
	t.Parallel()

	records := testStore(t)
	session := &fakeSession{bodyText: "Application received"}
	resolver := &scriptedResolver{errs: []error{locator.ErrNotFound, locator.ErrNotFound}}
	driver := newTestDriver(t, session, resolver, records)

	result := driver.Run(context.Background(), driverPosting())

	assert.Equal(t, store.StatusCompleted, result.Status)
	assert.Equal(t, 3, result.Attempts)

	record, err := records.Get(context.Background(), result.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, 3, record.Attempts)
}

func TestDriverFailsAfterRetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	records := testStore(t)
	session := &fakeSession{}
	resolver := &scriptedResolver{errs: []error{locator.ErrNotFound, locator.ErrNotFound, locator.ErrNotFound}}
	driver := newTestDriver(t, session, resolver, records)

	result := driver.Run(context.Background(), driverPosting())

	assert.Equal(t, store.StatusFailed, result.Status)
	assert.Equal(t, 3, result.Attempts)

	record, err := records.Get(context.Background(), result.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, record.Status)
	assert.Contains(t, record.LastError, "element not found")
}

func TestDriverAbortsOnDeadlineDuringFillFields(t *testing.T) {
	t.Parallel()

	records := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	// The deadline fires while the driver is typing into the form.
	session := &fakeSession{bodyText: "Thank you for applying!", onTypeText: cancel}
	driver := newTestDriver(t, session, &scriptedResolver{}, records)

	result := driver.Run(ctx, driverPosting())

	assert.Equal(t, store.StatusAborted, result.Status)

	record, err := records.Get(context.Background(), result.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, store.StatusAborted, record.Status)
	assert.NotEqual(t, store.StatusCompleted, record.Status)
}

func TestDriverTerminalOnBrowserCrash(t *testing.T) {
	t.Parallel()

	records := testStore(t)
	session := &fakeSession{navigateErr: fmt.Errorf("run: %w", browser.ErrCrashed)}
	driver := newTestDriver(t, session, &scriptedResolver{}, records)

	result := driver.Run(context.Background(), driverPosting())

	assert.Equal(t, store.StatusFailed, result.Status)
	assert.True(t, result.Crashed, "crash must be surfaced to the pool")
}

func TestDriverSkipsAlreadyClaimedFingerprint(t *testing.T) {
	t.Parallel()

	records := testStore(t)
	posting := driverPosting()

	require.NoError(t, records.Claim(context.Background(), &store.Record{
		Fingerprint: posting.Fingerprint(),
		Source:      posting.Source,
	}))

	driver := newTestDriver(t, &fakeSession{}, &scriptedResolver{}, records)
	result := driver.Run(context.Background(), posting)

	assert.True(t, result.Skipped)
}

func TestDriverVerifyRecoversOnce(t *testing.T) {
	t.Parallel()

	records := testStore(t)
	session := &fakeSession{bodyText: "Processing..."}
	driver := newTestDriver(t, session, &scriptedResolver{}, records)

	// The confirmation appears only after the verify re-check.
	driver.sleep = func(ctx context.Context, _ time.Duration) error {
		session.setBodyText("Your application has been successfully applied")
		return ctx.Err()
	}

	result := driver.Run(context.Background(), driverPosting())

	assert.Equal(t, store.StatusCompleted, result.Status)
	assert.Equal(t, 2, result.Attempts)
}

func TestDriverVerifyMissingConfirmationTwiceIsTerminal(t *testing.T) {
	t.Parallel()

	records := testStore(t)
	session := &fakeSession{bodyText: "Processing..."}
	driver := newTestDriver(t, session, &scriptedResolver{}, records)

	result := driver.Run(context.Background(), driverPosting())

	assert.Equal(t, store.StatusFailed, result.Status)
	assert.Contains(t, result.Err.Error(), "confirmation")
}

func TestDriverValidationRejectionIsTerminal(t *testing.T) {
	t.Parallel()

	records := testStore(t)
	session := &fakeSession{bodyText: "Please correct the fields below"}
	driver := newTestDriver(t, session, &scriptedResolver{}, records)

	result := driver.Run(context.Background(), driverPosting())

	assert.Equal(t, store.StatusFailed, result.Status)
	assert.Equal(t, 1, result.Attempts, "validation rejection must not be retried")
}

func TestStateRetrySequence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		resolverErrs []error
		wantStatus   store.Status
	}{
		{
			name:         "immediate success",
			resolverErrs: nil,
			wantStatus:   store.StatusCompleted,
		},
		{
			name:         "one transient failure",
			resolverErrs: []error{&browser.TransientError{Err: fmt.Errorf("slow page")}},
			wantStatus:   store.StatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			records := testStore(t)
			session := &fakeSession{bodyText: "We received your application"}
			driver := newTestDriver(t, session, &scriptedResolver{errs: tt.resolverErrs}, records)

			result := driver.Run(context.Background(), driverPosting())
			assert.Equal(t, tt.wantStatus, result.Status)
		})
	}
}
