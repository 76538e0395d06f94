package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/verdantleaf/pos-catalog-sync/config"
	"github.com/verdantleaf/pos-catalog-sync/internal/model"
	"github.com/verdantleaf/pos-catalog-sync/internal/retry"
	"github.com/verdantleaf/pos-catalog-sync/internal/sink"
)

// PGWriter reconciles snapshots straight into the sink database: one
// location-scoped delete, then multi-row inserts in independently committed
// batches. A failed batch never rolls back the ones before it.
type PGWriter struct {
	db            *sqlx.DB
	batchSize     int
	batchDelay    time.Duration
	quantityFloor float64
	policy        retry.Policy
	logger        *zap.Logger
}

func NewPGWriter(db *sqlx.DB, cfg *config.Sync, policy retry.Policy, logger *zap.Logger) *PGWriter {
	return &PGWriter{
		db:            db,
		batchSize:     cfg.BatchSize,
		batchDelay:    cfg.BatchDelay(),
		quantityFloor: cfg.QuantityFloor,
		policy:        policy,
		logger:        logger,
	}
}

type itemRow struct {
	model.CatalogItem
	DocumentID string         `db:"document_id"`
	TagList    pq.StringArray `db:"tags"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

type promoRow struct {
	model.Promotion
	DocumentID     string         `db:"document_id"`
	ProductsJSON   types.JSONText `db:"products"`
	CategoriesJSON types.JSONText `db:"product_categories"`
	BrandsJSON     types.JSONText `db:"brands"`
	VendorsJSON    types.JSONText `db:"vendors"`
	StrainsJSON    types.JSONText `db:"strains"`
	TagsJSON       types.JSONText `db:"tags"`
	AppliesToJSON  types.JSONText `db:"applies_to"`
	StoreIDs       pq.StringArray `db:"applies_to_store_ids"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

const itemColumns = `
	document_id, inventory_id, provider_store_id, product_id, sku, product_name,
	description, category_id, category, image_url, quantity_available, quantity_units,
	unit_price, med_unit_price, rec_unit_price, strain_id, strain, strain_type,
	brand_id, brand_name, vendor_id, vendor, tags, master_category,
	is_cannabis, medical_only, allow_automatic_discounts, last_modified_at,
	expiration_date, updated_at`

const itemValues = `
	:document_id, :inventory_id, :provider_store_id, :product_id, :sku, :product_name,
	:description, :category_id, :category, :image_url, :quantity_available, :quantity_units,
	:unit_price, :med_unit_price, :rec_unit_price, :strain_id, :strain, :strain_type,
	:brand_id, :brand_name, :vendor_id, :vendor, :tags, :master_category,
	:is_cannabis, :medical_only, :allow_automatic_discounts, :last_modified_at,
	:expiration_date, :updated_at`

var insertItemsQuery = fmt.Sprintf("INSERT INTO catalog_items (%s) VALUES (%s)", itemColumns, itemValues)

// upsertItemQuery repairs a single row after a unique-constraint race:
// another writer created it first, so we update in place instead of erroring
// the whole batch.
var upsertItemQuery = insertItemsQuery + `
	ON CONFLICT (provider_store_id, inventory_id) DO UPDATE SET
	product_id = EXCLUDED.product_id, sku = EXCLUDED.sku,
	product_name = EXCLUDED.product_name, description = EXCLUDED.description,
	category_id = EXCLUDED.category_id, category = EXCLUDED.category,
	image_url = EXCLUDED.image_url, quantity_available = EXCLUDED.quantity_available,
	quantity_units = EXCLUDED.quantity_units, unit_price = EXCLUDED.unit_price,
	med_unit_price = EXCLUDED.med_unit_price, rec_unit_price = EXCLUDED.rec_unit_price,
	strain_id = EXCLUDED.strain_id, strain = EXCLUDED.strain,
	strain_type = EXCLUDED.strain_type, brand_id = EXCLUDED.brand_id,
	brand_name = EXCLUDED.brand_name, vendor_id = EXCLUDED.vendor_id,
	vendor = EXCLUDED.vendor, tags = EXCLUDED.tags,
	master_category = EXCLUDED.master_category, is_cannabis = EXCLUDED.is_cannabis,
	medical_only = EXCLUDED.medical_only,
	allow_automatic_discounts = EXCLUDED.allow_automatic_discounts,
	last_modified_at = EXCLUDED.last_modified_at,
	expiration_date = EXCLUDED.expiration_date, updated_at = EXCLUDED.updated_at`

const promoColumns = `
	document_id, discount_id, discount_name, discount_code, discount_amount,
	discount_type, discount_method, is_active, is_deleted, valid_from, valid_until,
	products, product_categories, brands, vendors, strains, tags,
	threshold_type, minimum_items_required, maximum_items_allowed, maximum_usage_count,
	first_time_customer_only, require_manager_approval, stack_on_other_discounts,
	is_available_online, include_non_cannabis, applies_to, applies_to_store_ids, updated_at`

const promoValues = `
	:document_id, :discount_id, :discount_name, :discount_code, :discount_amount,
	:discount_type, :discount_method, :is_active, :is_deleted, :valid_from, :valid_until,
	:products, :product_categories, :brands, :vendors, :strains, :tags,
	:threshold_type, :minimum_items_required, :maximum_items_allowed, :maximum_usage_count,
	:first_time_customer_only, :require_manager_approval, :stack_on_other_discounts,
	:is_available_online, :include_non_cannabis, :applies_to, :applies_to_store_ids, :updated_at`

var insertPromosQuery = fmt.Sprintf("INSERT INTO promotions (%s) VALUES (%s)", promoColumns, promoValues)

var upsertPromoQuery = insertPromosQuery + `
	ON CONFLICT (discount_id) DO UPDATE SET
	discount_name = EXCLUDED.discount_name, discount_code = EXCLUDED.discount_code,
	discount_amount = EXCLUDED.discount_amount, discount_type = EXCLUDED.discount_type,
	discount_method = EXCLUDED.discount_method, is_active = EXCLUDED.is_active,
	is_deleted = EXCLUDED.is_deleted, valid_from = EXCLUDED.valid_from,
	valid_until = EXCLUDED.valid_until, products = EXCLUDED.products,
	product_categories = EXCLUDED.product_categories, brands = EXCLUDED.brands,
	vendors = EXCLUDED.vendors, strains = EXCLUDED.strains, tags = EXCLUDED.tags,
	threshold_type = EXCLUDED.threshold_type,
	minimum_items_required = EXCLUDED.minimum_items_required,
	maximum_items_allowed = EXCLUDED.maximum_items_allowed,
	maximum_usage_count = EXCLUDED.maximum_usage_count,
	first_time_customer_only = EXCLUDED.first_time_customer_only,
	require_manager_approval = EXCLUDED.require_manager_approval,
	stack_on_other_discounts = EXCLUDED.stack_on_other_discounts,
	is_available_online = EXCLUDED.is_available_online,
	include_non_cannabis = EXCLUDED.include_non_cannabis,
	applies_to = EXCLUDED.applies_to,
	applies_to_store_ids = EXCLUDED.applies_to_store_ids,
	updated_at = EXCLUDED.updated_at`

// ReplaceItems deletes every item row owned by the store and inserts the
// fresh snapshot in independently committed batches. Items below the
// quantity floor never reach the sink.
func (w *PGWriter) ReplaceItems(ctx context.Context, st model.Store, items []model.CatalogItem) (sink.WriteResult, error) {
	var res sink.WriteResult

	valid := make([]model.CatalogItem, 0, len(items))
	for i := range items {
		if items[i].QuantityAvailable >= w.quantityFloor {
			valid = append(valid, items[i])
		}
	}
	w.logger.Info("replacing catalog items",
		zap.String("store", st.Name),
		zap.Int("fresh", len(valid)),
		zap.Int("below_floor", len(items)-len(valid)))

	deleted, err := w.deleteStoreItems(ctx, st.ProviderStoreID)
	if err != nil {
		return res, fmt.Errorf("sink: delete items for store %s: %w", st.ProviderStoreID, err)
	}
	res.Deleted = deleted

	now := time.Now().UTC()
	for start := 0; start < len(valid); start += w.batchSize {
		if start > 0 {
			if err := w.pause(ctx); err != nil {
				return res, err
			}
		}

		end := min(start+w.batchSize, len(valid))
		rows := make([]itemRow, 0, end-start)
		for _, item := range valid[start:end] {
			item.ProviderStoreID = st.ProviderStoreID
			rows = append(rows, itemRow{
				CatalogItem: item,
				DocumentID:  uuid.New().String(),
				TagList:     pq.StringArray(item.Tags),
				UpdatedAt:   now,
			})
		}

		err := w.policy.Do(ctx, func() error {
			return w.insertBatch(ctx, insertItemsQuery, rows)
		})
		switch {
		case err == nil:
			res.Created += len(rows)
		case isUniqueViolation(err):
			created, errs := w.repairRows(ctx, upsertItemQuery, toAny(rows))
			res.Created += created
			res.Errors += errs
		default:
			w.logger.Error("item batch failed",
				zap.String("store", st.Name), zap.Error(err))
			res.Errors += len(rows)
		}
	}

	return res, nil
}

// ReplacePromotions rebuilds the store's promotion rows. Promotions shared
// with other locations keep their merged membership; promotions the store no
// longer offers are stripped from membership, or deleted when this store was
// the last holder.
func (w *PGWriter) ReplacePromotions(ctx context.Context, st model.Store, promos []model.Promotion) (sink.WriteResult, error) {
	var res sink.WriteResult
	now := time.Now().UTC()

	fresh := make([]model.Promotion, 0, len(promos))
	for i := range promos {
		if promos[i].Live(now) {
			fresh = append(fresh, promos[i])
		}
	}
	w.logger.Info("replacing promotions",
		zap.String("store", st.Name),
		zap.Int("fresh", len(fresh)),
		zap.Int("dropped", len(promos)-len(fresh)))

	ids := make([]int64, len(fresh))
	for i := range fresh {
		ids[i] = fresh[i].DiscountID
	}

	membership, deleted, err := w.rotateStorePromotions(ctx, st, ids, now)
	if err != nil {
		return res, fmt.Errorf("sink: rotate promotions for store %s: %w", st.ProviderStoreID, err)
	}
	res.Deleted = deleted

	ref := st.Ref()
	for start := 0; start < len(fresh); start += w.batchSize {
		if start > 0 {
			if err := w.pause(ctx); err != nil {
				return res, err
			}
		}

		end := min(start+w.batchSize, len(fresh))
		rows := make([]promoRow, 0, end-start)
		for _, promo := range fresh[start:end] {
			refs := mergeRefs(membership[promo.DiscountID], ref)
			promo.AppliesTo = refs
			rows = append(rows, newPromoRow(&promo, refs, now))
		}

		err := w.policy.Do(ctx, func() error {
			return w.insertBatch(ctx, insertPromosQuery, rows)
		})
		switch {
		case err == nil:
			res.Created += len(rows)
		case isUniqueViolation(err):
			created, errs := w.repairRows(ctx, upsertPromoQuery, toAny(rows))
			res.Created += created
			res.Errors += errs
		default:
			w.logger.Error("promotion batch failed",
				zap.String("store", st.Name), zap.Error(err))
			res.Errors += len(rows)
		}
	}

	return res, nil
}

// CleanupPromotions purges rows that expired, were soft-deleted upstream, or
// lost their last location membership.
func (w *PGWriter) CleanupPromotions(ctx context.Context) (int, error) {
	result, err := w.db.ExecContext(ctx, `
		DELETE FROM promotions
		WHERE is_deleted = TRUE
		   OR (valid_until IS NOT NULL AND valid_until < NOW())
		   OR cardinality(applies_to_store_ids) = 0`)
	if err != nil {
		return 0, fmt.Errorf("sink: cleanup promotions: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (w *PGWriter) deleteStoreItems(ctx context.Context, providerStoreID string) (int, error) {
	var deleted int
	err := w.policy.Do(ctx, func() error {
		result, err := w.db.ExecContext(ctx,
			`DELETE FROM catalog_items WHERE provider_store_id = $1`, providerStoreID)
		if err != nil {
			return err
		}
		n, _ := result.RowsAffected()
		deleted = int(n)
		return nil
	})
	return deleted, err
}

type promoMembership struct {
	DiscountID int64          `db:"discount_id"`
	AppliesTo  types.JSONText `db:"applies_to"`
	StoreIDs   pq.StringArray `db:"applies_to_store_ids"`
}

// rotateStorePromotions runs the location-scoped delete phase in one
// transaction: read membership of every affected row, delete rows that will
// be reinserted or that this store solely owned, and strip this store from
// rows other locations still hold.
func (w *PGWriter) rotateStorePromotions(ctx context.Context, st model.Store, freshIDs []int64, now time.Time) (map[int64][]model.StoreRef, int, error) {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	var existing []promoMembership
	err = tx.SelectContext(ctx, &existing, `
		SELECT discount_id, applies_to, applies_to_store_ids
		FROM promotions
		WHERE $1 = ANY(applies_to_store_ids) OR discount_id = ANY($2)`,
		st.ProviderStoreID, pq.Array(freshIDs))
	if err != nil {
		return nil, 0, err
	}

	membership := make(map[int64][]model.StoreRef, len(existing))
	freshSet := make(map[int64]bool, len(freshIDs))
	for _, id := range freshIDs {
		freshSet[id] = true
	}

	for _, row := range existing {
		var refs []model.StoreRef
		if len(row.AppliesTo) > 0 {
			if err := json.Unmarshal(row.AppliesTo, &refs); err != nil {
				w.logger.Warn("unreadable promotion membership, rebuilding",
					zap.Int64("discount_id", row.DiscountID), zap.Error(err))
			}
		}
		membership[row.DiscountID] = refs

		// strip this store from promotions it no longer offers but other
		// locations still hold
		if !freshSet[row.DiscountID] && len(row.StoreIDs) > 1 {
			kept := make([]model.StoreRef, 0, len(refs))
			for _, r := range refs {
				if r.ProviderStoreID != st.ProviderStoreID {
					kept = append(kept, r)
				}
			}
			if err := w.updateMembership(ctx, tx, row.DiscountID, kept, now); err != nil {
				return nil, 0, err
			}
		}
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM promotions
		WHERE discount_id = ANY($2)
		   OR applies_to_store_ids <@ ARRAY[$1]::text[]`,
		st.ProviderStoreID, pq.Array(freshIDs))
	if err != nil {
		return nil, 0, err
	}
	n, _ := result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}
	return membership, int(n), nil
}

func (w *PGWriter) updateMembership(ctx context.Context, tx *sqlx.Tx, discountID int64, refs []model.StoreRef, now time.Time) error {
	payload, err := json.Marshal(refs)
	if err != nil {
		return err
	}
	storeIDs := make(pq.StringArray, 0, len(refs))
	for _, r := range refs {
		storeIDs = append(storeIDs, r.ProviderStoreID)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE promotions
		SET applies_to = $2, applies_to_store_ids = $3, updated_at = $4
		WHERE discount_id = $1`,
		discountID, types.JSONText(payload), storeIDs, now)
	return err
}

func (w *PGWriter) insertBatch(ctx context.Context, query string, rows any) error {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
		return err
	}
	return tx.Commit()
}

// repairRows falls back to row-at-a-time native upserts after a batch hit a
// unique-constraint race.
func (w *PGWriter) repairRows(ctx context.Context, query string, rows []any) (created, errs int) {
	for _, row := range rows {
		if _, err := w.db.NamedExecContext(ctx, query, row); err != nil {
			w.logger.Error("row upsert failed", zap.Error(err))
			errs++
			continue
		}
		created++
	}
	return created, errs
}

func (w *PGWriter) pause(ctx context.Context) error {
	if w.batchDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(w.batchDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newPromoRow(promo *model.Promotion, refs []model.StoreRef, now time.Time) promoRow {
	storeIDs := make(pq.StringArray, 0, len(refs))
	for _, r := range refs {
		storeIDs = append(storeIDs, r.ProviderStoreID)
	}
	appliesTo, _ := json.Marshal(refs)
	return promoRow{
		Promotion:      *promo,
		DocumentID:     uuid.New().String(),
		ProductsJSON:   filterJSON(promo.Products),
		CategoriesJSON: filterJSON(promo.Categories),
		BrandsJSON:     filterJSON(promo.Brands),
		VendorsJSON:    filterJSON(promo.Vendors),
		StrainsJSON:    filterJSON(promo.Strains),
		TagsJSON:       filterJSON(promo.Tags),
		AppliesToJSON:  types.JSONText(appliesTo),
		StoreIDs:       storeIDs,
		UpdatedAt:      now,
	}
}

// mergeRefs unions the existing membership with this store's ref, replacing
// a stale entry for the same provider store id.
func mergeRefs(existing []model.StoreRef, ref model.StoreRef) []model.StoreRef {
	out := make([]model.StoreRef, 0, len(existing)+1)
	replaced := false
	for _, r := range existing {
		if r.ProviderStoreID == ref.ProviderStoreID {
			out = append(out, ref)
			replaced = true
			continue
		}
		out = append(out, r)
	}
	if !replaced {
		out = append(out, ref)
	}
	return out
}

func filterJSON[T any](f *T) types.JSONText {
	if f == nil {
		return nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	return types.JSONText(b)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func toAny[T any](rows []T) []any {
	out := make([]any, len(rows))
	for i := range rows {
		out[i] = rows[i]
	}
	return out
}
