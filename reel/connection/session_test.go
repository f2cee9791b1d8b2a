package connection

import (
	"context"
	"testing"

	"reelserver/models"
	"reelserver/provider"

	"go.uber.org/zap"
)

func TestManageSessionReattachKeepsProgress(t *testing.T) {
	registry := NewRegistry()
	logger := zap.NewNop()
	mock := provider.NewMockProvider()

	first := &models.Client{UserID: 7, NickName: "Ripley"}
	session := registry.ManageSession(context.Background(), nil, logger, first, nil, mock, provider.MockLLM{})
	if session == nil {
		t.Fatal("expected a session")
	}

	// ラウンドを1つ進めてから再接続する
	session.Controller.StartRound(context.Background())
	call := <-mock.Calls
	call.Resolve(&provider.RoundContent{
		Concept:     "Alien",
		Explanation: "In space no one can hear you scream.",
		ImageURL:    "data:image/png;base64,x",
	})

	second := &models.Client{UserID: 7, NickName: "Ripley"}
	rejoined := registry.ManageSession(context.Background(), nil, logger, second, nil, mock, provider.MockLLM{})

	if rejoined != session {
		t.Fatal("reconnect did not re-attach to the existing session")
	}
	if rejoined.Client != session.Client {
		t.Error("session client identity must be stable across reconnects")
	}
}

func TestManageSessionSeparateUsersGetSeparateSessions(t *testing.T) {
	registry := NewRegistry()
	logger := zap.NewNop()
	mock := provider.NewMockProvider()

	a := registry.ManageSession(context.Background(), nil, logger, &models.Client{UserID: 1}, nil, mock, provider.MockLLM{})
	b := registry.ManageSession(context.Background(), nil, logger, &models.Client{UserID: 2}, nil, mock, provider.MockLLM{})

	if a == b {
		t.Fatal("different users must not share a session")
	}
}
