package slurm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// fakeRun replays canned outputs keyed by binary name.
type fakeCall struct {
	name string
	args []string
}

func newFakeClient(outputs map[string]string, errs map[string]error, calls *[]fakeCall) *Client {
	return &Client{run: func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
		if calls != nil {
			*calls = append(*calls, fakeCall{name: name, args: args})
		}
		return []byte(outputs[name]), errs[name]
	}}
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		err     error
		wantID  string
		wantErr bool
	}{
		{"plain job id", "4281337\n", nil, "4281337", false},
		{"id with cluster suffix", "4281337;cluster\n", nil, "4281337", false},
		{"scheduler unreachable", "sbatch: error: Batch job submission failed", errors.New("exit status 1"), "", true},
		{"garbage output", "Submitted batch job forty-two", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeClient(map[string]string{"sbatch": tt.output}, map[string]error{"sbatch": tt.err}, nil)
			id, err := c.Submit(context.Background(), "/tmp/model", "run.sh")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Submit() error = %v, wantErr %v", err, tt.wantErr)
			}
			if id != tt.wantID {
				t.Errorf("Submit() = %q, want %q", id, tt.wantID)
			}
		})
	}
}

func TestQueryActiveStates(t *testing.T) {
	tests := []struct {
		squeue string
		want   State
	}{
		{"PENDING\n", StatePending},
		{"CONFIGURING\n", StatePending},
		{"RUNNING\n", StateRunning},
		{"COMPLETING\n", StateRunning},
	}

	for _, tt := range tests {
		t.Run(tt.squeue, func(t *testing.T) {
			c := newFakeClient(map[string]string{"squeue": tt.squeue}, nil, nil)
			info, err := c.Query(context.Background(), "99")
			if err != nil {
				t.Fatal(err)
			}
			if info.State != tt.want {
				t.Errorf("Query() state = %v, want %v", info.State, tt.want)
			}
		})
	}
}

func TestQueryFallsBackToAccounting(t *testing.T) {
	tests := []struct {
		name     string
		sacct    string
		want     State
		wantCode int
	}{
		{"completed", "COMPLETED|0:0\n", StateCompleted, 0},
		{"failed with code", "FAILED|137:0\n", StateFailed, 137},
		{"timeout", "TIMEOUT|0:1\n", StateFailed, 0},
		{"cancelled by user", "CANCELLED by 1001|0:0\n", StateCancelled, 0},
		{"not yet in accounting", "", StateUnknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []fakeCall
			c := newFakeClient(map[string]string{
				"squeue": "", // job left the queue
				"sacct":  tt.sacct,
			}, nil, &calls)

			info, err := c.Query(context.Background(), "99")
			if err != nil {
				t.Fatal(err)
			}
			if info.State != tt.want {
				t.Errorf("state = %v, want %v", info.State, tt.want)
			}
			if info.RawExitCode != tt.wantCode {
				t.Errorf("raw exit code = %d, want %d", info.RawExitCode, tt.wantCode)
			}
			if len(calls) != 2 || calls[1].name != "sacct" {
				t.Errorf("expected squeue then sacct, got %v", calls)
			}
		})
	}
}

func TestQueryInvalidJobID(t *testing.T) {
	c := newFakeClient(map[string]string{
		"squeue": "slurm_load_jobs error: Invalid job id specified",
		"sacct":  "COMPLETED|0:0\n",
	}, map[string]error{"squeue": fmt.Errorf("exit status 1")}, nil)

	info, err := c.Query(context.Background(), "99")
	if err != nil {
		t.Fatal(err)
	}
	if info.State != StateCompleted {
		t.Errorf("state = %v, want completed via sacct", info.State)
	}
}

func TestQueryTransientFailure(t *testing.T) {
	c := newFakeClient(map[string]string{
		"squeue": "slurm_load_jobs error: Socket timed out",
	}, map[string]error{"squeue": fmt.Errorf("exit status 1")}, nil)

	if _, err := c.Query(context.Background(), "99"); err == nil {
		t.Error("transient squeue failure should surface an error")
	}
}

func TestStateTerminal(t *testing.T) {
	for state, terminal := range map[State]bool{
		StatePending:   false,
		StateRunning:   false,
		StateUnknown:   false,
		StateCompleted: true,
		StateFailed:    true,
		StateCancelled: true,
	} {
		if state.Terminal() != terminal {
			t.Errorf("%v.Terminal() = %v, want %v", state, state.Terminal(), terminal)
		}
	}
}
