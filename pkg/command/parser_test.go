package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		defaultRepo string
		want        Command
	}{
		{"status", "status", "acme/api", Command{Kind: KindStatus}},
		{"status mixed case", "STATUS", "acme/api", Command{Kind: KindStatus}},
		{"queue", "queue", "acme/api", Command{Kind: KindQueue}},
		{"pause", "pause", "acme/api", Command{Kind: KindPause}},
		{"resume", "resume", "acme/api", Command{Kind: KindResume}},
		{"unpause alias", "unpause", "acme/api", Command{Kind: KindResume}},
		{"history", "history", "acme/api", Command{Kind: KindHistory}},
		{"help", "help", "acme/api", Command{Kind: KindHelp}},
		{"bare work", "work", "acme/api", Command{Kind: KindWork}},
		{"work full ref", "work acme/web#17", "acme/api", Command{Kind: KindWork, Repo: "acme/web", Issue: 17}},
		{"work hash number", "work #42", "acme/api", Command{Kind: KindWork, Repo: "acme/api", Issue: 42}},
		{"work bare number", "work 42", "acme/api", Command{Kind: KindWork, Repo: "acme/api", Issue: 42}},
		{"work on filler", "work on acme/web#9", "acme/api", Command{Kind: KindWork, Repo: "acme/web", Issue: 9}},
		{"work repo only", "work acme/web", "acme/api", Command{Kind: KindWork, Repo: "acme/web"}},
		{"work repo then number", "work acme/web 7", "acme/api", Command{Kind: KindWork, Repo: "acme/web", Issue: 7}},
		{"work number no default", "work 42", "", Command{Kind: KindUnknown}},
		{"stop minion id", "stop minion-a1b2c3d4", "acme/api", Command{Kind: KindStop, MinionID: "minion-a1b2c3d4"}},
		{"kill alias", "kill minion-a1b2c3d4", "acme/api", Command{Kind: KindStop, MinionID: "minion-a1b2c3d4"}},
		{"stop by issue", "stop #5", "acme/api", Command{Kind: KindStop, Repo: "acme/api", Issue: 5}},
		{"stop full ref", "stop acme/web#5", "acme/api", Command{Kind: KindStop, Repo: "acme/web", Issue: 5}},
		{"stop no target", "stop", "acme/api", Command{Kind: KindUnknown}},
		{"mention stripped", "<@U123ABC> status", "acme/api", Command{Kind: KindStatus}},
		{"gibberish", "make me a sandwich", "acme/api", Command{Kind: KindUnknown}},
		{"empty", "   ", "acme/api", Command{Kind: KindUnknown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.in, tt.defaultRepo)
			assert.Equal(t, tt.want.Kind, got.Kind)
			assert.Equal(t, tt.want.Repo, got.Repo)
			assert.Equal(t, tt.want.Issue, got.Issue)
			assert.Equal(t, tt.want.MinionID, got.MinionID)
		})
	}
}

func TestParsePreservesRaw(t *testing.T) {
	got := Parse("  deploy the thing  ", "acme/api")
	assert.Equal(t, KindUnknown, got.Kind)
	assert.Equal(t, "deploy the thing", got.Raw)
}
