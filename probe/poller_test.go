package probe

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/lukemcguire/throttleprobe/result"
)

func TestJobPoller_Await(t *testing.T) {
	testCases := []struct {
		name      string
		setup     func(f *fakeJobAPI)
		wantState JobState
		wantOK    bool
		wantErr   result.ErrorType
		wantData  string
		wantPolls int
	}{
		{
			name:      "succeeded with content",
			setup:     func(f *fakeJobAPI) {},
			wantState: StateSucceeded,
			wantOK:    true,
			wantData:  result.DataTypeInstagram,
			wantPolls: 1,
		},
		{
			name:      "running then succeeded",
			setup:     func(f *fakeJobAPI) { f.statuses = []string{"RUNNING", "RUNNING", "SUCCEEDED"} },
			wantState: StateSucceeded,
			wantOK:    true,
			wantData:  result.DataTypeInstagram,
			wantPolls: 3,
		},
		{
			name:      "failed",
			setup:     func(f *fakeJobAPI) { f.statuses = []string{"RUNNING", "FAILED"} },
			wantState: StateFailed,
			wantErr:   "run_failed",
			wantPolls: 2,
		},
		{
			name:      "aborted",
			setup:     func(f *fakeJobAPI) { f.statuses = []string{"ABORTED"} },
			wantState: StateAborted,
			wantErr:   "run_aborted",
			wantPolls: 1,
		},
		{
			name:      "remote timeout",
			setup:     func(f *fakeJobAPI) { f.statuses = []string{"TIMED-OUT"} },
			wantState: StateTimedOut,
			wantErr:   "run_timed-out",
			wantPolls: 1,
		},
		{
			name:      "status non-200",
			setup:     func(f *fakeJobAPI) { f.statusCode = http.StatusInternalServerError },
			wantState: StateStatusError,
			wantErr:   result.ErrStatusCheckFailed,
			wantPolls: 1,
		},
		{
			name:      "no dataset id",
			setup:     func(f *fakeJobAPI) { f.datasetID = "" },
			wantState: StateSucceeded,
			wantErr:   result.ErrNoDatasetID,
			wantPolls: 1,
		},
		{
			name:      "dataset fetch failed",
			setup:     func(f *fakeJobAPI) { f.datasetCode = http.StatusNotFound },
			wantState: StateSucceeded,
			wantErr:   result.ErrDatasetFetchFailed,
			wantPolls: 1,
		},
		{
			name:      "wait budget exceeded",
			setup:     func(f *fakeJobAPI) { f.statuses = []string{"RUNNING"} },
			wantState: StateTimedOut,
			wantErr:   result.ErrRunTimeout,
			wantPolls: 3, // t=0s, 5s, 10s with a 12s budget
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeJobAPI()
			tc.setup(f)
			client := f.start(t)
			clock := newFakeClock()
			poller := NewJobPoller(client, PollConfig{Interval: 5 * time.Second, WaitBudget: 12 * time.Second}, clock.Sleep, clock.Now, nil)

			got := poller.Await(context.Background(), "run-1")

			if got.State != tc.wantState {
				t.Errorf("State = %q, want %q", got.State, tc.wantState)
			}
			if got.Success != tc.wantOK {
				t.Errorf("Success = %v, want %v", got.Success, tc.wantOK)
			}
			if got.ErrorType != tc.wantErr {
				t.Errorf("ErrorType = %q, want %q", got.ErrorType, tc.wantErr)
			}
			if got.DataType != tc.wantData {
				t.Errorf("DataType = %q, want %q", got.DataType, tc.wantData)
			}
			if _, polls := f.counts(); polls != tc.wantPolls {
				t.Errorf("polls = %d, want %d", polls, tc.wantPolls)
			}
		})
	}
}

func TestJobPoller_StatusTransportError(t *testing.T) {
	client := NewJobClient(testSession(t), JobAPIConfig{BaseURL: "http://127.0.0.1:1", StatusTimeout: time.Second})
	clock := newFakeClock()
	poller := NewJobPoller(client, PollConfig{}, clock.Sleep, clock.Now, nil)

	got := poller.Await(context.Background(), "run-1")
	if got.ErrorType != result.ErrStatusCheckError {
		t.Errorf("ErrorType = %q, want %q", got.ErrorType, result.ErrStatusCheckError)
	}
	if got.State != StateStatusError {
		t.Errorf("State = %q", got.State)
	}
}

func TestJobPoller_CancelledWhilePolling(t *testing.T) {
	f := newFakeJobAPI()
	f.statuses = []string{"RUNNING"}
	client := f.start(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := newFakeClock()
	clock.cancel, clock.after = cancel, 1
	poller := NewJobPoller(client, PollConfig{Interval: time.Second, WaitBudget: time.Minute}, clock.Sleep, clock.Now, nil)

	got := poller.Await(ctx, "run-1")
	if got.ErrorType != result.ErrStatusCheckError {
		t.Errorf("ErrorType = %q, want %q", got.ErrorType, result.ErrStatusCheckError)
	}
	if _, polls := f.counts(); polls != 1 {
		t.Errorf("polls = %d, want 1", polls)
	}
}

func TestValidateDataset(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		wantOK   bool
		wantErr  result.ErrorType
		wantData string
	}{
		{name: "content descriptor", body: `[{"shortCode":"Cx1"}]`, wantOK: true, wantData: result.DataTypeInstagram},
		{name: "engagement count only", body: `[{"likesCount":0}]`, wantOK: true, wantData: result.DataTypeInstagram},
		{name: "restricted error", body: `[{"error":"Post is Restricted"}]`, wantOK: true, wantData: result.DataTypeRestricted},
		{name: "private description", body: `[{"error":true,"errorDescription":"This account is private"}]`, wantOK: true, wantData: result.DataTypeRestricted},
		{name: "other error", body: `[{"error":"not_found","errorDescription":"Page not found"}]`, wantErr: "data_error:Page not found"},
		{name: "error without description", body: `[{"error":"boom"}]`, wantErr: "data_error:boom"},
		{name: "empty description wins over private error", body: `[{"error":"Private account","errorDescription":""}]`, wantErr: "data_error:"},
		{name: "null description wins over restricted error", body: `[{"error":"restricted","errorDescription":null}]`, wantErr: "data_error:"},
		{name: "non-string error", body: `[{"error":{"code":7}}]`, wantErr: `data_error:{"code":7}`},
		{name: "false error ignored", body: `[{"error":false,"shortCode":"x"}]`, wantOK: true, wantData: result.DataTypeInstagram},
		{name: "empty shortCode unrecognized", body: `[{"shortCode":""}]`, wantErr: result.ErrInvalidDataFormat},
		{name: "null likes unrecognized", body: `[{"likesCount":null}]`, wantErr: result.ErrInvalidDataFormat},
		{name: "empty", body: `[]`, wantErr: result.ErrNoDataExtracted},
		{name: "unknown shape", body: `[{"foo":"bar"}]`, wantErr: result.ErrInvalidDataFormat},
		{name: "non-object item", body: `["text"]`, wantErr: result.ErrInvalidDataFormat},
		{name: "not json", body: `<html>`, wantErr: result.ErrDatasetCheckError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidateDataset([]byte(tc.body))
			if got.Success != tc.wantOK {
				t.Errorf("Success = %v, want %v", got.Success, tc.wantOK)
			}
			if got.ErrorType != tc.wantErr {
				t.Errorf("ErrorType = %q, want %q", got.ErrorType, tc.wantErr)
			}
			if got.DataType != tc.wantData {
				t.Errorf("DataType = %q, want %q", got.DataType, tc.wantData)
			}
		})
	}
}
