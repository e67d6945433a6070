package migrate

import (
	"context"

	"github.com/willibrandon/tenantmove/internal/catalog"
	"github.com/willibrandon/tenantmove/internal/tenancy"
)

const tariffComment = "tenant migration"

// reconcile brings the destination tenant's billing state in line with
// the migrated content. It runs after every table and blob is replayed.
func (r *Runner) reconcile(ctx context.Context, dir tenancy.Directory, tenantID int64, userID string, totalBytes int64) error {
	now := r.opts.Now()

	err := dir.SetQuotaRow(ctx, tenancy.QuotaRow{
		Tenant:       tenantID,
		Path:         "/" + catalog.ModuleFiles + "/",
		Counter:      totalBytes,
		Tag:          catalog.ModuleFiles,
		LastModified: now,
	})
	if err != nil {
		return fail("write quota row", KindTransientStore, err)
	}

	tenant, err := dir.TenantByID(ctx, tenantID)
	if err != nil {
		return fail("reload tenant", storeKind(err), err)
	}
	owner := tenant.OwnerID
	exists := false
	if owner != "" {
		if exists, err = dir.UserExists(ctx, tenantID, owner); err != nil {
			return fail("check tenant owner", KindTransientStore, err)
		}
	}
	if !exists {
		owner = userID
	}
	if err := dir.ActivateTenant(ctx, tenantID, owner, now); err != nil {
		return fail("activate tenant", storeKind(err), err)
	}

	err = dir.ReplaceTariff(ctx, tenancy.Tariff{
		Tenant:  tenantID,
		QuotaID: r.opts.TrialQuotaID,
		Stamp:   tenancy.MaxStamp,
		Comment: tariffComment,
	})
	if err != nil {
		return fail("attach trial tariff", KindTransientStore, err)
	}

	added, err := dir.EnsureGroupMember(ctx, tenantID, owner, r.opts.AdminGroupID)
	if err != nil {
		return fail("ensure admin membership", KindTransientStore, err)
	}

	r.events.Log(Event{
		Event:    EventReconciled,
		TenantID: tenantID,
		UserID:   owner,
		Bytes:    totalBytes,
		Details:  map[string]any{"owner_changed": owner != tenant.OwnerID, "admin_added": added},
	})
	return nil
}
