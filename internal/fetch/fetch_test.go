package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrencyCap(t *testing.T) {
	const maxConcurrent = 2

	var inFlight int64
	started := make(chan struct{}, 16)
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&inFlight, 1)
		started <- struct{}{}
		<-release
		atomic.AddInt64(&inFlight, -1)
		w.Write([]byte("done"))
	}))
	defer srv.Close()

	c := New(maxConcurrent, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < maxConcurrent+1; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Distinct URLs so de-duplication does not join them.
			if _, err := c.Get(context.Background(), fmt.Sprintf("%s/req/%d", srv.URL, i)); err != nil {
				t.Errorf("request %d failed: %v", i, err)
			}
		}(i)
	}

	// Exactly maxConcurrent requests reach the server immediately.
	for i := 0; i < maxConcurrent; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("request %d never reached the server", i)
		}
	}
	select {
	case <-started:
		t.Fatal("extra request reached the server while all slots were busy")
	case <-time.After(100 * time.Millisecond):
	}
	if n := atomic.LoadInt64(&inFlight); n != maxConcurrent {
		t.Fatalf("expected %d in flight, got %d", maxConcurrent, n)
	}

	// Freeing one slot admits the waiter.
	release <- struct{}{}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("queued request did not start after a slot freed")
	}

	close(release)
	wg.Wait()
}

func TestInFlightDeduplication(t *testing.T) {
	var hits int64
	gate := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		<-gate
		w.Write([]byte("shared"))
	}))
	defer srv.Close()

	c := New(4, time.Minute)

	const callers = 5
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := c.Post(context.Background(), srv.URL+"/transcribe", []byte(`{"audio_url":"x"}`))
			if err != nil {
				t.Errorf("request failed: %v", err)
				return
			}
			results <- string(body)
		}()
	}

	// Let all callers queue against the single in-flight request.
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(results)

	if n := atomic.LoadInt64(&hits); n != 1 {
		t.Errorf("expected 1 upstream request, got %d", n)
	}
	for body := range results {
		if body != "shared" {
			t.Errorf("expected joined result, got %q", body)
		}
	}
}

func TestJoinedCallersShareInitiatorTimeout(t *testing.T) {
	var hits int64
	arrived := make(chan struct{})
	var once sync.Once
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		once.Do(func() { close(arrived) })
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := New(4, time.Minute)

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), &Request{
			Method:  http.MethodGet,
			URL:     srv.URL + "/asset",
			Timeout: 150 * time.Millisecond,
		})
		firstErr <- err
	}()

	<-arrived

	// Joins the in-flight execution; this caller's own context never expires,
	// but the execution runs under the initiator's and fails with it.
	_, err := c.Get(context.Background(), srv.URL+"/asset")
	if err == nil {
		t.Fatal("joined caller should receive the initiator's timeout error")
	}
	if e := <-firstErr; e == nil {
		t.Fatal("initiating caller should time out")
	}
	if n := atomic.LoadInt64(&hits); n != 1 {
		t.Fatalf("expected 1 upstream request, got %d", n)
	}
}

func TestPerRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	c := New(4, time.Minute)
	start := time.Now()
	_, err := c.Do(context.Background(), &Request{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Timeout: 50 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("timeout was not enforced promptly")
	}
}

func TestNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(4, time.Minute)
	if _, err := c.Get(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestPriorityHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Priority")
	}))
	defer srv.Close()

	c := New(4, time.Minute)
	if _, err := c.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL, Priority: PriorityHigh}); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if got != "u=1" {
		t.Errorf("expected priority hint u=1, got %q", got)
	}
}
