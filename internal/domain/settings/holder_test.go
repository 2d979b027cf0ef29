package settings

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"member-tenure/internal/domain/tenure"
)

// switchSource devuelve lo que se le cargue; sirve para simular cambios.
type switchSource struct {
	mu    sync.Mutex
	doc   Document
	err   error
	loads int
}

func (s *switchSource) Load(ctx context.Context) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return s.doc, s.err
}

func (s *switchSource) set(doc Document, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc, s.err = doc, err
}

func (s *switchSource) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func mustBuild(t *testing.T, d Document) tenure.Settings {
	t.Helper()
	s, err := Build(d)
	if err != nil {
		t.Fatalf("build settings: %v", err)
	}
	return s
}

func mustHolder(t *testing.T, src Source, opts HolderOptions) *Holder {
	t.Helper()
	h, err := NewHolder(context.Background(), src, opts)
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	return h
}

func mustCurrent(t *testing.T, h *Holder) tenure.Settings {
	t.Helper()
	s, err := h.Current(context.Background())
	if err != nil {
		t.Fatalf("current settings: %v", err)
	}
	return s
}

func TestHolder_InitialFailure(t *testing.T) {
	src := &switchSource{err: configErr("broken")}
	_, err := NewHolder(context.Background(), src, HolderOptions{})
	expectConfigErr(t, err)
}

func TestHolder_ConfigErrorBlocksUntilCorrected(t *testing.T) {
	ctx := context.Background()
	src := &switchSource{doc: validDoc()}
	h := mustHolder(t, src, HolderOptions{})

	bad := validDoc()
	bad.ConsecutiveTypes = nil
	src.set(bad, nil)
	expectConfigErr(t, h.Reload(ctx))

	_, err := h.Current(ctx)
	expectConfigErr(t, err)

	good := validDoc()
	good.ConsecutiveTypes = []string{"C"}
	src.set(good, nil)
	if err := h.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	expectCodes(t, mustCurrent(t, h), "C")
}

func TestHolder_TransientFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	src := &switchSource{doc: validDoc()}
	h := mustHolder(t, src, HolderOptions{})

	src.set(Document{}, errors.New("crm: connection reset"))
	if err := h.Reload(ctx); err == nil {
		t.Fatalf("expected reload error")
	}

	expectCodes(t, mustCurrent(t, h), "A", "B")
}

func TestHolder_TTL(t *testing.T) {
	src := &switchSource{doc: validDoc()}
	h := mustHolder(t, src, HolderOptions{TTL: time.Minute})

	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }
	h.store(mustBuild(t, validDoc()))

	changed := validDoc()
	changed.ConsecutiveTypes = []string{"Z"}
	src.set(changed, nil)

	expectCodes(t, mustCurrent(t, h), "A", "B")

	now = now.Add(2 * time.Minute)
	expectCodes(t, mustCurrent(t, h), "Z")
}

func TestHolder_TTLReloadSurfacesConfigError(t *testing.T) {
	ctx := context.Background()
	src := &switchSource{doc: validDoc()}
	h := mustHolder(t, src, HolderOptions{TTL: time.Minute})

	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }
	h.store(mustBuild(t, validDoc()))

	broken := validDoc()
	broken.ConsecutiveTypes = nil
	src.set(broken, nil)

	now = now.Add(2 * time.Minute)
	_, err := h.Current(ctx)
	expectConfigErr(t, err)

	// dentro del TTL no vuelve a resolver, sigue bloqueado
	loads := src.loadCount()
	_, err = h.Current(ctx)
	expectConfigErr(t, err)
	if got := src.loadCount(); got != loads {
		t.Fatalf("expected no reload inside the TTL, loads went %d -> %d", loads, got)
	}

	src.set(validDoc(), nil)
	now = now.Add(2 * time.Minute)
	expectCodes(t, mustCurrent(t, h), "A", "B")
}

func TestHolder_WatchReloadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	write := func(codes string) {
		writeSettings(t, path, `
consecutive_types: [`+codes+`]
max_lapse_months: 1
since_record: {type: ConsecutiveMember, property: ConsecutiveSince}
`)
	}
	write("A")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := mustHolder(t, FileSource{Path: path}, HolderOptions{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Watch(ctx, path)
	}()

	// dar tiempo a que el watcher se registre
	time.Sleep(100 * time.Millisecond)
	write("B")

	deadline := time.Now().Add(3 * time.Second)
	for {
		if s, err := h.Current(ctx); err == nil && s.IsConsecutive("B") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("settings were not reloaded after the file changed")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	<-done
}
