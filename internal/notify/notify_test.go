package notify

import (
	"context"
	"os"
	"testing"
)

func TestNewDisabledWithoutCredentials(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	os.Unsetenv("AWS_ACCESS_KEY_ID")

	collab, err := New(context.Background(), "from@example.com", "cto@example.com")
	if err != nil {
		t.Fatalf("expected graceful degradation, got error: %v", err)
	}
	if collab.enabled {
		t.Fatal("expected collaborator to be disabled without AWS credentials")
	}
}

func TestSendReportDisabledReturnsNilError(t *testing.T) {
	collab := &SESCollaborator{enabled: false}
	if err := collab.SendReport(context.Background(), "client@example.com", nil, 3); err != nil {
		t.Fatalf("expected disabled send to no-op, got %v", err)
	}
}
