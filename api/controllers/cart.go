package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/cartbridge/api/middleware"
	"github.com/angelmondragon/cartbridge/api/responses"
	"github.com/angelmondragon/cartbridge/api/validators"
	"github.com/angelmondragon/cartbridge/internal/cartsync"
	"github.com/angelmondragon/cartbridge/pkg/coreapi"
	pkgerrors "github.com/angelmondragon/cartbridge/pkg/errors"
	"github.com/angelmondragon/cartbridge/pkg/logger"
)

// CartEngines hands out the reconciliation engine for a cart owner.
type CartEngines interface {
	EngineFor(ownerKey string, creds coreapi.Credentials) (*cartsync.Engine, error)
}

type addItemPayload struct {
	ProductID        string `json:"productId" validate:"required"`
	Quantity         int    `json:"quantity" validate:"required,gt=0"`
	ProductVariantID string `json:"productVariantId,omitempty"`
}

type updateItemPayload struct {
	Quantity int `json:"quantity" validate:"required,gt=0"`
}

type cartView struct {
	Cart    *cartsync.Snapshot `json:"cart"`
	Loading bool               `json:"loading"`
	// Stale marks a projection served after a failed reconciliation.
	Stale bool `json:"stale,omitempty"`
}

// CartFetch returns the reconciled projection, loading it on first access.
func CartFetch(engines CartEngines, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		eng, err := engineFromRequest(engines, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		snap, err := eng.EnsureLoaded(ctx)
		if err != nil && snap == nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		_, loading := eng.Projection()
		responses.WriteSuccess(w, cartView{Cart: snap, Loading: loading})
	}
}

// CartAddItem adds a product to the cart and returns the updated projection.
func CartAddItem(engines CartEngines, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		eng, err := engineFromRequest(engines, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload addItemPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		snap, err := eng.AddToCart(ctx, payload.ProductID, payload.Quantity, payload.ProductVariantID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, cartView{Cart: snap})
	}
}

// CartUpdateItem changes a line item quantity.
func CartUpdateItem(engines CartEngines, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		eng, err := engineFromRequest(engines, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
		if itemID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "item id is required"))
			return
		}

		var payload updateItemPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		snap, err := eng.UpdateQuantity(ctx, itemID, payload.Quantity)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, cartView{Cart: snap})
	}
}

// CartRemoveItem deletes a line item. Removing an item the upstream no
// longer has still succeeds.
func CartRemoveItem(engines CartEngines, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		eng, err := engineFromRequest(engines, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
		if itemID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "item id is required"))
			return
		}

		snap, err := eng.RemoveItem(ctx, itemID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, cartView{Cart: snap})
	}
}

// CartRefresh asks the engine to reconcile against the upstream. The
// request may be coalesced away; either way the current projection comes
// back. A failed reconciliation is only an error when there is no
// projection to fall back on; otherwise the preserved snapshot is served
// and flagged stale.
func CartRefresh(engines CartEngines, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		eng, err := engineFromRequest(engines, r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		refreshErr := eng.RequestRefresh(ctx)
		snap, loading := eng.Projection()
		if refreshErr != nil {
			if snap == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, refreshErr, "cart refresh failed"))
				return
			}
			logg.Warn(logg.WithField(ctx, "refresh_error", refreshErr.Error()), "refresh failed, serving preserved projection")
			responses.WriteSuccess(w, cartView{Cart: snap, Loading: loading, Stale: true})
			return
		}
		responses.WriteSuccess(w, cartView{Cart: snap, Loading: loading})
	}
}

func engineFromRequest(engines CartEngines, r *http.Request) (*cartsync.Engine, error) {
	if engines == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cart engines unavailable")
	}
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "identity missing from request context")
	}
	eng, err := engines.EngineFor(id.OwnerKey(), id.Credentials())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cart engine unavailable")
	}
	return eng, nil
}
