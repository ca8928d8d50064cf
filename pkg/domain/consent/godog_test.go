package consent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
)

type consentFeature struct {
	svc        *Service
	store      *fakeStore
	userSiteID uuid.UUID
	issued     uuid.UUID
	submitErr  error
}

func (f *consentFeature) reset() {
	f.store = newFakeStore()
	f.svc = NewService(f.store.mock(), testLogger(), retention)
	f.userSiteID = uuid.New()
	f.issued = uuid.Nil
	f.submitErr = nil
}

func (f *consentFeature) anOpenConsentSession(ctx context.Context) error {
	session, err := f.svc.Create(ctx, createParams(f.userSiteID))
	if err != nil {
		return err
	}
	f.issued = session.StateID
	return nil
}

func (f *consentFeature) theStateWasAlreadySubmitted(ctx context.Context) error {
	_, _, err := f.svc.Submit(ctx, "user-1", f.issued)
	return err
}

func (f *consentFeature) aNewerSessionReplacesIt(ctx context.Context) error {
	_, err := f.svc.Create(ctx, createParams(f.userSiteID))
	return err
}

func (f *consentFeature) theIssuedStateIsSubmitted(ctx context.Context) error {
	_, _, f.submitErr = f.svc.Submit(ctx, "user-1", f.issued)
	return nil
}

func (f *consentFeature) aRandomStateIsSubmitted(ctx context.Context) error {
	_, _, f.submitErr = f.svc.Submit(ctx, "user-1", uuid.New())
	return nil
}

func (f *consentFeature) theSubmitSucceeds() error {
	if f.submitErr != nil {
		return fmt.Errorf("expected success, got %v", f.submitErr)
	}
	return nil
}

func (f *consentFeature) guardedByDifferentState() error {
	current := f.store.sessions[f.userSiteID]
	if current == nil {
		return errors.New("session vanished")
	}
	if current.StateID == f.issued {
		return errors.New("state id did not rotate")
	}
	return nil
}

func (f *consentFeature) failsAs(kind string) error {
	if f.submitErr == nil {
		return errors.New("expected a classified failure, got success")
	}
	var (
		unknown    *UnknownStateError
		submitted  *AlreadySubmittedError
		superseded *SupersededError
	)
	switch kind {
	case "unknown":
		if !errors.As(f.submitErr, &unknown) {
			return fmt.Errorf("expected unknown-state, got %v", f.submitErr)
		}
	case "already submitted":
		if !errors.As(f.submitErr, &submitted) {
			return fmt.Errorf("expected already-submitted, got %v", f.submitErr)
		}
	case "superseded":
		if !errors.As(f.submitErr, &superseded) {
			return fmt.Errorf("expected superseded, got %v", f.submitErr)
		}
	default:
		return fmt.Errorf("unhandled failure kind %q", kind)
	}
	return nil
}

func InitializeScenario(sc *godog.ScenarioContext) {
	f := &consentFeature{}
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		f.reset()
		return ctx, nil
	})

	sc.Step(`^an open consent session$`, f.anOpenConsentSession)
	sc.Step(`^the issued state was already submitted$`, f.theStateWasAlreadySubmitted)
	sc.Step(`^a newer session replaces it$`, f.aNewerSessionReplacesIt)
	sc.Step(`^the issued state is submitted$`, f.theIssuedStateIsSubmitted)
	sc.Step(`^a random state is submitted$`, f.aRandomStateIsSubmitted)
	sc.Step(`^the submit succeeds$`, f.theSubmitSucceeds)
	sc.Step(`^the session is guarded by a different state id$`, f.guardedByDifferentState)
	sc.Step(`^the submit fails as unknown$`, func() error { return f.failsAs("unknown") })
	sc.Step(`^the submit fails as already submitted$`, func() error { return f.failsAs("already submitted") })
	sc.Step(`^the submit fails as superseded$`, func() error { return f.failsAs("superseded") })
}

func TestConsentSessionFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("consent session feature suite failed")
	}
}
