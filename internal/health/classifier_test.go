package health

import (
	"strings"
	"testing"
	"time"

	"dripfeed/internal/model"
)

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func activeSource(name string) model.ContentSource {
	polled := testNow.Add(-time.Hour)
	return model.ContentSource{Name: name, IsActive: true, LastPolledAt: &polled}
}

func TestClassify(t *testing.T) {
	stale := testNow.Add(-72 * time.Hour)

	tests := []struct {
		name      string
		in        Input
		want      model.HealthStatus
		wantIssue string
	}{
		{
			name:      "no sources is critical",
			in:        Input{},
			want:      model.StatusCritical,
			wantIssue: "no content sources",
		},
		{
			name: "inactive critical source",
			in: Input{Sources: []model.ContentSource{
				activeSource("a"),
				{Name: "b", IsCritical: true, IsActive: false},
			}},
			want:      model.StatusCritical,
			wantIssue: `critical source "b" is inactive`,
		},
		{
			name: "sources exist but none active",
			in: Input{Sources: []model.ContentSource{
				{Name: "a", IsActive: false},
				{Name: "b", IsActive: false},
			}},
			want:      model.StatusCritical,
			wantIssue: "all content sources are inactive",
		},
		{
			name: "volume drop 75 percent is critical",
			in: Input{
				Sources:       []model.ContentSource{activeSource("a")},
				ThisWeekCount: 5,
				LastWeekCount: 20,
			},
			want:      model.StatusCritical,
			wantIssue: "dropped 75%",
		},
		{
			name: "volume drop 50 percent is warning",
			in: Input{
				Sources:       []model.ContentSource{activeSource("a")},
				ThisWeekCount: 10,
				LastWeekCount: 20,
			},
			want:      model.StatusWarning,
			wantIssue: "dropped 50%",
		},
		{
			name: "failure streak is warning",
			in: Input{Sources: []model.ContentSource{
				{Name: "a", IsActive: true, ConsecutiveFailures: 3},
			}},
			want:      model.StatusWarning,
			wantIssue: "failed 3 polls",
		},
		{
			name: "stale poll is warning",
			in: Input{Sources: []model.ContentSource{
				{Name: "a", IsActive: true, LastPolledAt: &stale},
			}},
			want:      model.StatusWarning,
			wantIssue: "not polled",
		},
		{
			name: "inactive source failures are ignored",
			in: Input{Sources: []model.ContentSource{
				activeSource("a"),
				{Name: "b", IsActive: false, ConsecutiveFailures: 10},
			}},
			want: model.StatusHealthy,
		},
		{
			name: "new topic with no last week volume",
			in: Input{
				Sources:       []model.ContentSource{activeSource("a")},
				ThisWeekCount: 0,
				LastWeekCount: 0,
			},
			want: model.StatusHealthy,
		},
		{
			name: "growing volume stays healthy",
			in: Input{
				Sources:       []model.ContentSource{activeSource("a")},
				ThisWeekCount: 30,
				LastWeekCount: 20,
			},
			want: model.StatusHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in, testNow, DefaultThresholds())
			if got.Status != tt.want {
				t.Fatalf("Status = %s, want %s (issues: %v)", got.Status, tt.want, got.Issues)
			}
			if tt.wantIssue == "" {
				return
			}
			found := false
			for _, issue := range got.Issues {
				if strings.Contains(issue, tt.wantIssue) {
					found = true
				}
			}
			if !found {
				t.Fatalf("issues %v missing %q", got.Issues, tt.wantIssue)
			}
		})
	}
}

func TestClassifyCriticalBeatsWarning(t *testing.T) {
	in := Input{
		Sources: []model.ContentSource{
			{Name: "a", IsActive: true, ConsecutiveFailures: 5},
			{Name: "b", IsCritical: true, IsActive: false},
		},
	}
	got := Classify(in, testNow, DefaultThresholds())
	if got.Status != model.StatusCritical {
		t.Fatalf("Status = %s, want critical", got.Status)
	}
	if len(got.Issues) < 2 {
		t.Fatalf("expected both signals reported, got %v", got.Issues)
	}
}

func TestClassifyThresholdOverride(t *testing.T) {
	th := DefaultThresholds()
	th.MaxConsecutiveFailures = 1
	in := Input{Sources: []model.ContentSource{{Name: "a", IsActive: true, ConsecutiveFailures: 1}}}
	if got := Classify(in, testNow, th); got.Status != model.StatusWarning {
		t.Fatalf("Status = %s, want warning with tightened threshold", got.Status)
	}
}

func TestDegraded(t *testing.T) {
	snap := Degraded(errDummy{})
	if snap.Status != model.StatusWarning {
		t.Fatalf("Status = %s, want warning", snap.Status)
	}
	if len(snap.Issues) != 1 || !strings.Contains(snap.Issues[0], "boom") {
		t.Fatalf("Issues = %v", snap.Issues)
	}
}

type errDummy struct{}

func (errDummy) Error() string { return "boom" }
