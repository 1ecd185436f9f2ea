package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/finmesh/finance"
)

type nopStore struct{ finance.Store }

func testExecutionContext() ExecutionContext {
	return ExecutionContext{
		TurnID:         "turn-1",
		ChatID:         "chat-1",
		ActorID:        "user-1",
		OrganizationID: "org-1",
		Timezone:       "Europe/Rome",
		DB:             nopStore{},
	}
}

func TestCurrentExecutionContext_NotBound(t *testing.T) {
	if _, err := CurrentExecutionContext(context.Background()); !errors.Is(err, ErrContextNotSet) {
		t.Fatalf("want ErrContextNotSet, got %v", err)
	}
	if _, err := CurrentExecutionContext(nil); !errors.Is(err, ErrContextNotSet) {
		t.Fatalf("nil ctx: want ErrContextNotSet, got %v", err)
	}
}

func TestRunWithExecutionContext_BindsAndReleases(t *testing.T) {
	var leaked context.Context
	err := RunWithExecutionContext(context.Background(), testExecutionContext(), func(ctx context.Context) error {
		ec, err := CurrentExecutionContext(ctx)
		if err != nil {
			return err
		}
		if ec.OrganizationID != "org-1" || ec.TurnID != "turn-1" {
			t.Errorf("unexpected context: %+v", ec)
		}
		leaked = ctx
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := CurrentExecutionContext(leaked); !errors.Is(err, ErrContextNotSet) {
		t.Fatalf("after release: want ErrContextNotSet, got %v", err)
	}
}

func TestExecutionContext_SurvivesGoroutinesAndDerivedContexts(t *testing.T) {
	ctx, release := WithExecutionContext(context.Background(), testExecutionContext())
	defer release()

	derived, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			ec, err := CurrentExecutionContext(derived)
			if err != nil {
				errs <- err
				return
			}
			if ec.ActorID != "user-1" {
				errs <- errors.New("wrong actor")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	release()
	if _, err := CurrentExecutionContext(derived); !errors.Is(err, ErrContextNotSet) {
		t.Fatalf("derived ctx after release: want ErrContextNotSet, got %v", err)
	}
}

func TestExecutionContext_TurnsAreIsolated(t *testing.T) {
	a := testExecutionContext()
	b := testExecutionContext()
	b.TurnID = "turn-2"
	b.OrganizationID = "org-2"

	ctxA, releaseA := WithExecutionContext(context.Background(), a)
	ctxB, releaseB := WithExecutionContext(context.Background(), b)
	defer releaseB()

	releaseA()
	if _, err := CurrentExecutionContext(ctxA); !errors.Is(err, ErrContextNotSet) {
		t.Fatalf("turn A should be released")
	}
	ec, err := CurrentExecutionContext(ctxB)
	if err != nil || ec.OrganizationID != "org-2" {
		t.Fatalf("turn B affected by A's release: %+v %v", ec, err)
	}
}

func TestExecutionContext_Helpers(t *testing.T) {
	ec := testExecutionContext()
	if got := ec.Scope(); got != "org-1/user-1/turn-1" {
		t.Errorf("Scope() = %q", got)
	}
	if got := ec.Currency(); got != "EUR" {
		t.Errorf("Currency() = %q", got)
	}
	if got := ec.Location().String(); got != "Europe/Rome" {
		t.Errorf("Location() = %q", got)
	}
	ec.Timezone = "Not/AZone"
	if ec.Location() != time.UTC {
		t.Errorf("invalid timezone should fall back to UTC")
	}
	ec.Now = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	if !ec.Clock().Equal(ec.Now) {
		t.Errorf("Clock() should use Now")
	}
	if err := ec.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	if err := (ExecutionContext{}).Validate(); err == nil {
		t.Errorf("empty context should not validate")
	}
}
