package controlplane

import "testing"

func TestLimitsValidate(t *testing.T) {
	tests := []struct {
		name    string
		limits  Limits
		wantErr bool
	}{
		{
			name:   "valid",
			limits: Limits{EPSSoft: 100, EPSHard: 200, Burst: 400, RetentionDays: 30},
		},
		{
			name:    "soft exceeds hard",
			limits:  Limits{EPSSoft: 300, EPSHard: 200, Burst: 400, RetentionDays: 30},
			wantErr: true,
		},
		{
			name:    "burst exceeds 3x hard",
			limits:  Limits{EPSSoft: 100, EPSHard: 200, Burst: 700, RetentionDays: 30},
			wantErr: true,
		},
		{
			name:    "retention too low",
			limits:  Limits{EPSSoft: 100, EPSHard: 200, Burst: 400, RetentionDays: 0},
			wantErr: true,
		},
		{
			name:    "retention too high",
			limits:  Limits{EPSSoft: 100, EPSHard: 200, Burst: 400, RetentionDays: 3651},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.limits.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryGetUnknownTenant(t *testing.T) {
	r := NewRegistry(nil)
	l := r.Get("never-registered")
	if l.TenantID != UnknownTenantID {
		t.Errorf("expected unknown tenant fallback, got %+v", l)
	}
	if l.EPSSoft > l.EPSHard {
		t.Error("unknown tenant fallback limits must satisfy eps_soft <= eps_hard")
	}
}
