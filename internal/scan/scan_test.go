package scan

import (
	"testing"

	"github.com/nestwatch/nestwatch/internal/errors"
)

func TestEncodeRequestWireFormat(t *testing.T) {
	payload, err := EncodeRequest(Request{AccountID: 42, TaskID: "task-1"})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	want := `{"task":"perform_account_scan","args":[42],"id":"task-1"}`
	if string(payload) != want {
		t.Errorf("payload = %s, want %s", payload, want)
	}
}

func TestEncodeRequestValidates(t *testing.T) {
	if _, err := EncodeRequest(Request{AccountID: 0, TaskID: "task-1"}); !errors.IsValidation(err) {
		t.Errorf("missing account id: got %v, want validation error", err)
	}
	if _, err := EncodeRequest(Request{AccountID: 42}); !errors.IsValidation(err) {
		t.Errorf("missing task id: got %v, want validation error", err)
	}
}

func TestDecodeRequestRoundTrip(t *testing.T) {
	payload, err := EncodeRequest(Request{AccountID: 7, TaskID: "01HTASK"})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	req, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.AccountID != 7 || req.TaskID != "01HTASK" {
		t.Errorf("decoded %+v, want AccountID=7 TaskID=01HTASK", req)
	}
}

func TestDecodeRequestRejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `{{`},
		{"wrong task type", `{"task":"sync_library","args":[1],"id":"t"}`},
		{"no args", `{"task":"perform_account_scan","args":[],"id":"t"}`},
		{"extra args", `{"task":"perform_account_scan","args":[1,2],"id":"t"}`},
		{"zero account id", `{"task":"perform_account_scan","args":[0],"id":"t"}`},
		{"negative account id", `{"task":"perform_account_scan","args":[-3],"id":"t"}`},
		{"missing task id", `{"task":"perform_account_scan","args":[1],"id":""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeRequest([]byte(tc.payload)); !errors.IsValidation(err) {
				t.Errorf("got %v, want validation error", err)
			}
		})
	}
}

func TestStateAndCancelKeys(t *testing.T) {
	if got := StateKey("01HTASK"); got != "scan:state:01HTASK" {
		t.Errorf("StateKey = %q", got)
	}
	if got := CancelKey("01HTASK"); got != "scan:cancel:01HTASK" {
		t.Errorf("CancelKey = %q", got)
	}
}
