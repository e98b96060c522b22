package handler

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/voucher-engine/internal/domain/voucher"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

type conditionRequest struct {
	MinValue decimal.Decimal `json:"minValue" validate:"gte=0"`
	MaxValue decimal.Decimal `json:"maxValue" validate:"gte=0"`
}

type createVoucherRequest struct {
	PartnerID       string             `json:"partnerId" validate:"max=64"`
	Name            string             `json:"name" validate:"required,max=200"`
	Description     string             `json:"description" validate:"max=2000"`
	PercentDiscount int                `json:"percentDiscount" validate:"gte=0,lte=99"`
	ReleaseTime     time.Time          `json:"releaseTime" validate:"required"`
	ExpiredTime     time.Time          `json:"expiredTime" validate:"required,gtfield=ReleaseTime"`
	RemainQuantity  int                `json:"remainQuantity" validate:"gte=0"`
	State           string             `json:"state" validate:"omitempty,oneof=enabled disabled"`
	Conditions      []conditionRequest `json:"conditions" validate:"required,min=1,max=3,dive"`
	ServiceIDs      []string           `json:"scopedServiceIds" validate:"omitempty,dive,required"`
}

func (r createVoucherRequest) draft() voucher.Voucher {
	conds := make([]voucher.Condition, len(r.Conditions))
	for i, c := range r.Conditions {
		conds[i] = voucher.Condition{MinValue: c.MinValue, MaxValue: c.MaxValue}
	}
	return voucher.Voucher{
		PartnerID:       r.PartnerID,
		Name:            r.Name,
		Description:     r.Description,
		PercentDiscount: r.PercentDiscount,
		ReleaseTime:     r.ReleaseTime,
		ExpiredTime:     r.ExpiredTime,
		RemainQuantity:  r.RemainQuantity,
		State:           voucher.State(r.State),
		Conditions:      conds,
		ServiceIDs:      r.ServiceIDs,
	}
}

type updateVoucherRequest struct {
	Name            *string                  `json:"name" validate:"omitempty,min=1,max=200"`
	Description     *string                  `json:"description" validate:"omitempty,max=2000"`
	PercentDiscount *int                     `json:"percentDiscount" validate:"omitempty,gte=0,lte=99"`
	ReleaseTime     *time.Time               `json:"releaseTime"`
	ExpiredTime     *time.Time               `json:"expiredTime"`
	RemainQuantity  *int                     `json:"remainQuantity" validate:"omitempty,gte=0"`
	State           *string                  `json:"state" validate:"omitempty,oneof=enabled disabled"`
	ServiceIDs      []string                 `json:"scopedServiceIds" validate:"omitempty,dive,required"`
	Conditions      []voucher.ConditionPatch `json:"conditions" validate:"omitempty,max=3,dive"`
}

func (r updateVoucherRequest) patch() voucher.Patch {
	p := voucher.Patch{
		Name:            r.Name,
		Description:     r.Description,
		PercentDiscount: r.PercentDiscount,
		ReleaseTime:     r.ReleaseTime,
		ExpiredTime:     r.ExpiredTime,
		RemainQuantity:  r.RemainQuantity,
		ServiceIDs:      r.ServiceIDs,
		Conditions:      r.Conditions,
	}
	if r.State != nil {
		s := voucher.State(*r.State)
		p.State = &s
	}
	return p
}

type orderRequest struct {
	ServiceID string          `json:"serviceId" validate:"max=64"`
	Amount    decimal.Decimal `json:"amount" validate:"gte=0"`
}

func (r orderRequest) order() voucher.Order {
	return voucher.Order{ServiceID: r.ServiceID, Amount: r.Amount}
}

type applyRequest struct {
	CustomerID string          `json:"customerId" validate:"required,max=64"`
	ServiceID  string          `json:"serviceId" validate:"max=64"`
	Amount     decimal.Decimal `json:"amount" validate:"gte=0"`
}

func (r applyRequest) request() voucher.ApplyRequest {
	return voucher.ApplyRequest{
		CustomerID: r.CustomerID,
		Order:      voucher.Order{ServiceID: r.ServiceID, Amount: r.Amount},
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Decimals are validated by their float value.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &voucher.ValidationError{Field: "body", Reason: err.Error()}
	}
	if err := h.validate.Struct(dst); err != nil {
		return toValidationError(err)
	}
	return nil
}

// toValidationError reports the first failing field in domain terms.
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	// Drop the root struct name: "createVoucherRequest.conditions[0].minValue".
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	reason := fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	return &voucher.ValidationError{Field: field, Reason: "failed " + reason}
}
