package core

import (
	"context"
	"errors"
	"testing"
)

func TestTenantContext_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tenant  TenantContext
		wantErr bool
	}{
		{"valid tenant", TenantContext{CompanyID: "acme", AppID: "nexus"}, false},
		{"missing companyId", TenantContext{AppID: "nexus"}, true},
		{"missing appId", TenantContext{CompanyID: "acme"}, true},
		{"missing both", TenantContext{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tenant.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("Validate() error = %v, want wrapping ErrInvalidConfiguration", err)
			}
		})
	}
}

func TestTenantContext_Key(t *testing.T) {
	tenant := TenantContext{CompanyID: "acme", AppID: "billing"}
	if got, want := tenant.Key(), "acme:billing"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestWithTenantAndTenantFromContext(t *testing.T) {
	tenant := TenantContext{CompanyID: "acme", AppID: "nexus", UserID: "u-1"}
	ctx := WithTenant(context.Background(), tenant)

	got, ok := TenantFromContext(ctx)
	if !ok {
		t.Fatal("TenantFromContext() ok = false, want true")
	}
	if got != tenant {
		t.Errorf("TenantFromContext() = %+v, want %+v", got, tenant)
	}
}

func TestTenantFromContext_Absent(t *testing.T) {
	_, ok := TenantFromContext(context.Background())
	if ok {
		t.Error("TenantFromContext() ok = true, want false when none attached")
	}
	_, ok = TenantFromContext(nil)
	if ok {
		t.Error("TenantFromContext(nil) ok = true, want false")
	}
}
