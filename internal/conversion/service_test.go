package conversion

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fhirhub/go-fhirhub/internal/converter"
	"github.com/fhirhub/go-fhirhub/internal/observability/metrics"
)

const sampleADT = "MSH|^~\\&|SIH|CHU|RECV|FAC|20240301120000||ADT^A01|MSG0001|P|2.5\r" +
	"PID|1||123456^^^CHU&1.2.250.1.71.4.2.2&ISO^PI||DUPONT^JEAN^JEAN PIERRE^^^^L||19800115|M\r" +
	"PV1|1|I|CARDIO^101^A"

type recordingSink struct {
	mu       sync.Mutex
	outcomes []Outcome
	err      error
}

func (s *recordingSink) Record(_ context.Context, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return s.err
}

func (s *recordingSink) all() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Outcome(nil), s.outcomes...)
}

func newService(t *testing.T, memo *Memo, sink Sink) (*Service, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return NewService(converter.New(converter.DefaultOptions(), nil), memo, sink, m, nil), m
}

func TestServiceRecordsSuccess(t *testing.T) {
	sink := &recordingSink{}
	svc, m := newService(t, nil, sink)

	res, out := svc.Convert(context.Background(), Request{Message: sampleADT, Source: SourceFile, InputName: "a.hl7"})
	if !res.Success {
		t.Fatalf("conversion failed: %s", res.Message)
	}
	if out.Status != StatusSuccess || !out.Success() {
		t.Errorf("expected success outcome, got %s", out.Status)
	}
	if out.MessageType != "ADT^A01" || out.ControlID != "MSG0001" {
		t.Errorf("header not recorded: %+v", out)
	}
	if out.ResourceCount != 2 {
		t.Errorf("expected 2 resources, got %d", out.ResourceCount)
	}
	if out.PatientID != "123456" {
		t.Errorf("expected patient id 123456, got %q", out.PatientID)
	}
	if out.SourceType != SourceFile || out.InputName != "a.hl7" {
		t.Errorf("source not recorded: %+v", out)
	}

	recorded := sink.all()
	if len(recorded) != 1 || recorded[0].ID != out.ID {
		t.Fatalf("expected one recorded outcome, got %v", recorded)
	}

	if got := testutil.ToFloat64(m.Conversions.WithLabelValues("SUCCESS", "FILE")); got != 1 {
		t.Errorf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.ResourcesProduced.WithLabelValues("Patient")); got != 1 {
		t.Errorf("expected 1 patient produced, got %v", got)
	}
}

func TestServiceRecordsFailure(t *testing.T) {
	sink := &recordingSink{}
	svc, m := newService(t, nil, sink)

	res, out := svc.Convert(context.Background(), Request{Message: "   "})
	if res.Success {
		t.Fatal("expected failure")
	}
	if out.Status != StatusError || out.ErrorMessage != res.Message {
		t.Errorf("unexpected outcome %+v", out)
	}
	if out.SourceType != SourceAPI {
		t.Errorf("expected default source API, got %s", out.SourceType)
	}
	if got := testutil.ToFloat64(m.Conversions.WithLabelValues("ERROR", "API")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
}

func TestServiceSinkErrorDoesNotFailConversion(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sink := &recordingSink{err: errors.New("db down")}
	svc := NewService(converter.New(converter.DefaultOptions(), nil), nil, sink, nil, zap.New(core))

	res, _ := svc.Convert(context.Background(), Request{Message: sampleADT})
	if !res.Success {
		t.Fatalf("conversion should succeed, got %s", res.Message)
	}
	if logs.FilterMessage("failed to record conversion").Len() != 1 {
		t.Error("expected sink failure to be logged")
	}
}

func TestServiceMemo(t *testing.T) {
	memo, err := NewMemo(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer memo.Close()

	sink := &recordingSink{}
	svc, m := newService(t, memo, sink)

	first, out1 := svc.Convert(context.Background(), Request{Message: sampleADT})
	memo.Wait()
	second, out2 := svc.Convert(context.Background(), Request{Message: sampleADT})

	if out1.Cached {
		t.Error("first call cannot be a cache hit")
	}
	if !out2.Cached {
		t.Error("second call should be served from the memo")
	}
	if testutil.ToFloat64(m.CacheHits) != 1 {
		t.Errorf("expected 1 cache hit, got %v", testutil.ToFloat64(m.CacheHits))
	}
	if first.Message != second.Message || out1.ResourceCount != out2.ResourceCount {
		t.Error("memo should return the same envelope")
	}

	// Mutating a hit must not leak into the cache.
	second.FHIRData["type"] = "mutated"
	third, _ := svc.Convert(context.Background(), Request{Message: sampleADT})
	if third.FHIRData["type"] != "transaction" {
		t.Errorf("memo entry was mutated: %v", third.FHIRData["type"])
	}

	if len(sink.all()) != 3 {
		t.Errorf("every call should be recorded, got %d", len(sink.all()))
	}
}

func TestServiceMemoSkipsFailures(t *testing.T) {
	memo, err := NewMemo(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer memo.Close()

	if memo.Set("k", converter.Result{Success: false, Message: "x"}) {
		t.Error("failures must not be memoized")
	}
}

func TestServiceOptionsChangeKey(t *testing.T) {
	base := converter.DefaultOptions()
	other := base
	other.ExtensionBase = "https://example.fr/sd/"
	if Key(sampleADT, base) == Key(sampleADT, other) {
		t.Error("options must be part of the memo key")
	}
	if Key(sampleADT, base) != Key(sampleADT, base) {
		t.Error("key must be deterministic")
	}
}

func TestServiceRequestOptions(t *testing.T) {
	svc, _ := newService(t, nil, nil)
	msg := "PID|1||42^^^CHU||DUPONT^JEAN\rZFP|1|VAL"
	opts := converter.Options{ExtensionBase: "https://example.fr/sd/"}

	res, _ := svc.Convert(context.Background(), Request{Message: msg, Options: &opts})
	if !res.Success {
		t.Fatalf("conversion failed: %s", res.Message)
	}
	if !strings.Contains(dump(res.FHIRData), "https://example.fr/sd/ZFP-") {
		t.Error("request options should reach the engine")
	}
}

func TestNewMemoRejectsZeroSize(t *testing.T) {
	if _, err := NewMemo(0, time.Minute); err == nil {
		t.Error("expected error")
	}
}

func dump(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
