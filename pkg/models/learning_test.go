package models

import "testing"

func TestLearningValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Learning)
		wantErr bool
	}{
		{
			name:   "valid global",
			mutate: func(l *Learning) {},
		},
		{
			name: "project scope without project id",
			mutate: func(l *Learning) {
				l.Scope = ScopeProject
			},
			wantErr: true,
		},
		{
			name: "project scope with project id",
			mutate: func(l *Learning) {
				l.Scope = ScopeProject
				l.ProjectID = "P1"
			},
		},
		{
			name: "domain scope without domain id",
			mutate: func(l *Learning) {
				l.Scope = ScopeDomain
			},
			wantErr: true,
		},
		{
			name: "confidence out of range",
			mutate: func(l *Learning) {
				l.Confidence = 1.5
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLearning("use -y for noninteractive installs", PhaseLearn, "cli")
			tt.mutate(l)
			err := l.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestAccessibleInContext(t *testing.T) {
	tests := []struct {
		name      string
		learning  Learning
		projectID string
		domainID  string
		want      bool
	}{
		{
			name:     "global always accessible",
			learning: Learning{Scope: ScopeGlobal},
			want:     true,
		},
		{
			name:      "project match",
			learning:  Learning{Scope: ScopeProject, ProjectID: "P1"},
			projectID: "P1",
			want:      true,
		},
		{
			name:      "project mismatch",
			learning:  Learning{Scope: ScopeProject, ProjectID: "P1"},
			projectID: "P2",
			want:      false,
		},
		{
			name:     "domain match",
			learning: Learning{Scope: ScopeDomain, DomainID: "D1"},
			domainID: "D1",
			want:     true,
		},
		{
			name:     "domain mismatch",
			learning: Learning{Scope: ScopeDomain, DomainID: "D1"},
			domainID: "D2",
			want:     false,
		},
		{
			name:     "unknown scope treated as global",
			learning: Learning{Scope: LearningScope("WEIRD")},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.learning.AccessibleInContext(tt.projectID, tt.domainID)
			if got != tt.want {
				t.Errorf("AccessibleInContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewLearningDefaults(t *testing.T) {
	l := NewLearning("content", PhaseBuild, "tool_success")
	if l.UtilityScore != 0.5 {
		t.Errorf("initial utility score = %f, want 0.5", l.UtilityScore)
	}
	if l.Scope != ScopeGlobal {
		t.Errorf("default scope = %s, want GLOBAL", l.Scope)
	}
	if l.CreatedAt.IsZero() {
		t.Error("created at should be set")
	}
}
