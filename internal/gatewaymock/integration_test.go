package gatewaymock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/remote-notebook/kernelclient/internal/gateway"
	"github.com/remote-notebook/kernelclient/internal/history"
	"github.com/remote-notebook/kernelclient/internal/kernel"
	"github.com/remote-notebook/kernelclient/internal/registry"
	"github.com/remote-notebook/kernelclient/internal/terminal"
	"github.com/remote-notebook/kernelclient/internal/wire"
)

// TestIntegration_ExecuteAndRecord drives the real gateway client, kernel
// session and history store against the mock end to end
func TestIntegration_ExecuteAndRecord(t *testing.T) {
	mock, srv := newMockServer(t, Config{Token: "integration-token"})
	ctx := context.Background()

	client, err := gateway.NewClient(gateway.Config{
		BaseURL: srv.URL,
		Token:   "integration-token",
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	db, err := history.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := history.NewRepository(db)

	info, err := client.StartKernel(ctx, "python3", "analysis.ipynb")
	if err != nil {
		t.Fatalf("StartKernel error: %v", err)
	}

	sess, err := kernel.NewSession(kernel.Config{
		Endpoint:   client.Endpoint(info.ID),
		Document:   "analysis.ipynb",
		KernelSpec: info.Name,
		WorkingDir: "/work",
		Recorder:   repo.Recorder(),
	})
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}
	t.Cleanup(func() { sess.Dispose() })

	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	// The mock's default behavior echoes the code as a text/plain result.
	var events []kernel.OutputEvent
	outcome, err := sess.Execute(ctx, "6*7", func(ev kernel.OutputEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if outcome.Status != kernel.OutcomeOK {
		t.Fatalf("Expected an ok outcome, got %s", outcome.Status)
	}
	if len(events) != 1 {
		t.Fatalf("Expected exactly one output event, got %d", len(events))
	}
	result, ok := events[0].(kernel.RichResult)
	if !ok {
		t.Fatalf("Expected a RichResult, got %T", events[0])
	}
	if text, ok := result.Bundle.Text(); !ok || text != "6*7" {
		t.Errorf("Expected the code echoed back, got '%s'", text)
	}

	// The working-directory setup runs unrecorded, so this is the first row.
	rows, err := repo.ListByDocument(ctx, "analysis.ipynb", 0)
	if err != nil {
		t.Fatalf("ListByDocument error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected one recorded execution, got %d", len(rows))
	}
	if rows[0].Code != "6*7" || rows[0].Status != kernel.OutcomeOK || rows[0].KernelID != info.ID {
		t.Errorf("Unexpected record: %+v", rows[0])
	}

	mock.Script("1/0", ScriptOutput{Error: &wire.ErrorContent{
		Name:      "ZeroDivisionError",
		Value:     "division by zero",
		Traceback: []string{"Traceback (most recent call last):", "ZeroDivisionError: division by zero"},
	}})

	events = nil
	outcome, err = sess.Execute(ctx, "1/0", func(ev kernel.OutputEvent) {
		events = append(events, ev)
	})
	if outcome.Status != kernel.OutcomeFailed {
		t.Fatalf("Expected a failed outcome, got %s", outcome.Status)
	}
	var execErr *kernel.ExecutionError
	if !errors.As(err, &execErr) || execErr.Name != "ZeroDivisionError" {
		t.Fatalf("Expected a ZeroDivisionError, got %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected exactly one output event, got %d", len(events))
	}
	errOut, ok := events[0].(kernel.ErrorOutput)
	if !ok || errOut.Name != "ZeroDivisionError" {
		t.Errorf("Expected an ErrorOutput event, got %+v", events[0])
	}

	rows, err = repo.ListByDocument(ctx, "analysis.ipynb", 0)
	if err != nil {
		t.Fatalf("ListByDocument error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected two recorded executions, got %d", len(rows))
	}
	if rows[0].Status != kernel.OutcomeFailed || rows[0].Error == "" {
		t.Errorf("Expected the newest record to carry the failure, got %+v", rows[0])
	}

	if err := sess.Dispose(); err != nil {
		t.Fatalf("Dispose error: %v", err)
	}
	if _, err := sess.Execute(ctx, "x", nil); !errors.Is(err, kernel.ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed after dispose, got %v", err)
	}

	if err := client.ShutdownKernel(ctx, info.ID); err != nil {
		t.Errorf("ShutdownKernel error: %v", err)
	}
}

// TestIntegration_RegistrySharesSessions tests that the registry hands out
// one session per document backed by gateway-started kernels
func TestIntegration_RegistrySharesSessions(t *testing.T) {
	_, srv := newMockServer(t, Config{})
	ctx := context.Background()

	client, err := gateway.NewClient(gateway.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	factory := func(ctx context.Context, document string) (*kernel.Session, error) {
		info, err := client.StartKernel(ctx, "python3", document)
		if err != nil {
			return nil, err
		}
		sess, err := kernel.NewSession(kernel.Config{
			Endpoint: client.Endpoint(info.ID),
			Document: document,
		})
		if err != nil {
			return nil, err
		}
		if err := sess.Connect(ctx); err != nil {
			return nil, err
		}
		return sess, nil
	}

	reg := registry.New(factory, nil)
	t.Cleanup(func() { reg.Close() })

	first, err := reg.Acquire(ctx, "a.ipynb")
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	second, err := reg.Acquire(ctx, "a.ipynb")
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if first != second {
		t.Error("Expected both acquisitions to share one session")
	}

	other, err := reg.Acquire(ctx, "b.ipynb")
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if other == first {
		t.Error("Expected distinct documents to get distinct sessions")
	}
	if first.KernelID() == other.KernelID() {
		t.Error("Expected each session to own its own kernel")
	}

	kernels, err := client.ListKernels(ctx)
	if err != nil {
		t.Fatalf("ListKernels error: %v", err)
	}
	if len(kernels) != 2 {
		t.Errorf("Expected two running kernels, got %d", len(kernels))
	}

	outcome, err := other.Execute(ctx, "1+1", nil)
	if err != nil || outcome.Status != kernel.OutcomeOK {
		t.Errorf("Execute through the registry session failed: %+v (%v)", outcome, err)
	}
}

// TestIntegration_KernelShutdownClosesSession tests that deleting the kernel
// through the REST API fails the session closed
func TestIntegration_KernelShutdownClosesSession(t *testing.T) {
	_, srv := newMockServer(t, Config{})
	ctx := context.Background()

	client, err := gateway.NewClient(gateway.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	info, err := client.StartKernel(ctx, "python3", "doomed.ipynb")
	if err != nil {
		t.Fatalf("StartKernel error: %v", err)
	}

	sess, err := kernel.NewSession(kernel.Config{
		Endpoint: client.Endpoint(info.ID),
		Document: "doomed.ipynb",
	})
	if err != nil {
		t.Fatalf("NewSession error: %v", err)
	}
	t.Cleanup(func() { sess.Dispose() })

	if err := sess.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	if err := client.ShutdownKernel(ctx, info.ID); err != nil {
		t.Fatalf("ShutdownKernel error: %v", err)
	}

	// The close notice arrives on the read goroutine, so give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := sess.Execute(ctx, "1+1", nil)
		if errors.Is(err, kernel.ErrSessionClosed) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Session never failed closed, last error: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestIntegration_TerminalThroughGateway tests terminal creation, IO and
// REST-initiated shutdown with the real terminal client
func TestIntegration_TerminalThroughGateway(t *testing.T) {
	mock, srv := newMockServer(t, Config{Token: "integration-token"})
	ctx := context.Background()

	client, err := gateway.NewClient(gateway.Config{
		BaseURL: srv.URL,
		Token:   "integration-token",
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	info, err := client.StartTerminal(ctx)
	if err != nil {
		t.Fatalf("StartTerminal error: %v", err)
	}

	outputs := make(chan string, 16)
	closed := make(chan error, 1)
	term, err := terminal.NewClient(terminal.Config{
		BaseURL:  srv.URL,
		Name:     info.Name,
		Token:    "integration-token",
		Rows:     24,
		Cols:     80,
		OnOutput: func(data string) { outputs <- data },
		OnClose:  func(err error) { closed <- err },
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	t.Cleanup(func() { term.Close() })

	if err := term.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	// The cached dimensions replay asynchronously after the handshake.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rows, cols, ok := mock.TerminalDims(info.Name)
		if ok && rows == 24 && cols == 80 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Dimensions never arrived, got %dx%d (%v)", rows, cols, ok)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := term.SendInput("pwd\n"); err != nil {
		t.Fatalf("SendInput error: %v", err)
	}
	select {
	case data := <-outputs:
		if data != "pwd\n" {
			t.Errorf("Expected the input echoed back, got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for terminal output")
	}

	if err := client.ShutdownTerminal(ctx, info.Name); err != nil {
		t.Fatalf("ShutdownTerminal error: %v", err)
	}
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Expected an orderly close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the close notice")
	}
	if term.State() != terminal.StateClosed {
		t.Errorf("Expected the client to be closed, got %s", term.State())
	}
}
