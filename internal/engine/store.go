package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskquest/internal/domain"
	"taskquest/internal/engine/auth"
	"taskquest/internal/events"
)

// PurchaseResult is the caller's profile after a purchase or selection.
type PurchaseResult struct {
	Profile      domain.Profile `json:"profile"`
	Charged      int64          `json:"charged"`
	AlreadyOwned bool           `json:"already_owned"`
}

// Purchase buys and selects imageRef, or re-selects it for free when already
// owned. A nil imageRef clears the selection.
func (e Engine) Purchase(ctx context.Context, imageRef *string) (PurchaseResult, error) {
	id, err := auth.Resolve(ctx)
	if err != nil {
		purchasesTotal.WithLabelValues("unauthenticated").Inc()
		return PurchaseResult{}, err
	}
	if imageRef != nil {
		ref := strings.TrimSpace(*imageRef)
		if ref == "" {
			return PurchaseResult{}, invalidf("image_ref must not be empty")
		}
		imageRef = &ref
	}
	var res PurchaseResult
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		res = PurchaseResult{}
		p, err := e.Repo.GetProfileByIdentity(ctx, tx, id.ID)
		if err != nil {
			return notFound(err, "profile")
		}
		now := e.stamp()
		if imageRef == nil {
			if err := e.Repo.SetSelectedItem(ctx, tx, p.ID, nil, now); err != nil {
				return err
			}
			if err := e.appendEvent(ctx, tx, events.ItemSelected, "profile", p.ID, id.ID,
				events.EventPayload{"image_ref": nil}); err != nil {
				return err
			}
			return e.reloadProfile(ctx, tx, p.ID, &res)
		}
		ref := *imageRef
		item, err := e.Repo.GetStoreItemByRef(ctx, tx, ref)
		if err != nil {
			return notFound(err, "store item")
		}
		if p.Owns(ref) {
			res.AlreadyOwned = true
			if err := e.Repo.SetSelectedItem(ctx, tx, p.ID, &ref, now); err != nil {
				return err
			}
			if err := e.appendEvent(ctx, tx, events.ItemSelected, "profile", p.ID, id.ID,
				events.EventPayload{"image_ref": ref}); err != nil {
				return err
			}
			return e.reloadProfile(ctx, tx, p.ID, &res)
		}
		if _, ok, err := e.Repo.DebitProfile(ctx, tx, p.ID, item.Price, now); err != nil {
			return err
		} else if !ok {
			return ErrInsufficientFunds
		}
		if err := e.Repo.AddEntitlement(ctx, tx, p.ID, ref, now); err != nil {
			return err
		}
		if err := e.Repo.SetSelectedItem(ctx, tx, p.ID, &ref, now); err != nil {
			return err
		}
		res.Charged = item.Price
		if err := e.appendEvent(ctx, tx, events.ItemPurchased, "profile", p.ID, id.ID,
			events.EventPayload{"image_ref": ref, "price": item.Price}); err != nil {
			return err
		}
		return e.reloadProfile(ctx, tx, p.ID, &res)
	})
	purchasesTotal.WithLabelValues(outcomeOf(err,
		outcome{ErrInsufficientFunds, "insufficient_funds"},
		outcome{ErrNotFound, "not_found"},
		outcome{ErrConflict, "conflict"},
	)).Inc()
	if err != nil {
		return PurchaseResult{}, err
	}
	if res.Charged > 0 {
		currencySpent.Add(float64(res.Charged))
	}
	e.logger().Info("store purchase",
		zap.String("identity", id.ID),
		zap.Stringp("image_ref", imageRef),
		zap.Int64("charged", res.Charged),
		zap.Int64("balance", res.Profile.Balance))
	return res, nil
}

func (e Engine) reloadProfile(ctx context.Context, tx *sql.Tx, profileID string, res *PurchaseResult) error {
	p, err := e.Repo.GetProfile(ctx, tx, profileID)
	if err != nil {
		return err
	}
	res.Profile = p
	return nil
}

// InitializeCatalog inserts every configured catalog item whose image ref is
// not in the store yet and returns how many were added.
func (e Engine) InitializeCatalog(ctx context.Context) (int, error) {
	id, err := auth.Resolve(ctx)
	if err != nil {
		return 0, err
	}
	cfg := e.cfg()
	var added int
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		added = 0
		if err := e.ensureIdentity(ctx, tx, id); err != nil {
			return err
		}
		now := e.stamp()
		for _, ci := range cfg.Catalog.Items {
			it := domain.StoreItem{
				ID:          uuid.NewString(),
				ImageRef:    ci.ImageRef,
				Name:        ci.Name,
				Description: ci.Description,
				Price:       cfg.PriceOf(ci),
				Type:        ci.Type,
				CreatedAt:   now,
			}
			if it.Type == "" {
				it.Type = "background"
			}
			inserted, err := e.Repo.InsertStoreItemIfAbsent(ctx, tx, it)
			if err != nil {
				return err
			}
			if inserted {
				added++
			}
		}
		if added == 0 {
			return nil
		}
		return e.appendEvent(ctx, tx, events.CatalogSeeded, "store", "", id.ID, events.EventPayload{"added": added})
	})
	if err != nil {
		return 0, err
	}
	e.logger().Info("catalog initialized", zap.Int("added", added), zap.String("identity", id.ID))
	return added, nil
}

func (e Engine) ListStoreItems(ctx context.Context) ([]domain.StoreItem, error) {
	return e.Repo.ListStoreItems(ctx, nil)
}
