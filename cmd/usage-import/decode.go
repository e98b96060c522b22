package main

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/voucher-engine/internal/domain/usage"
)

// decodeRecord parses one JSONL line. Amounts may be JSON numbers or
// strings; the date may be RFC 3339, a plain YYYY-MM-DD or null. A line
// without an id gets one derived from its content, so importing the same
// file twice stores it once.
func decodeRecord(line []byte) (usage.Record, error) {
	var rec usage.Record
	d := jx.DecodeBytes(line)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			rec.ID, err = d.Str()
		case "voucherId":
			rec.VoucherID, err = d.Str()
		case "customerId":
			rec.CustomerID, err = d.Str()
		case "partnerId":
			rec.PartnerID, err = d.Str()
		case "serviceIds":
			err = d.Arr(func(d *jx.Decoder) error {
				id, err := d.Str()
				if err != nil {
					return err
				}
				rec.ServiceIDs = append(rec.ServiceIDs, id)
				return nil
			})
		case "orderPrice":
			rec.OrderPrice, err = decodeDecimal(d)
		case "totalDiscount":
			rec.TotalDiscount, err = decodeDecimal(d)
		case "date":
			rec.Date, err = decodeDate(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	}); err != nil {
		return usage.Record{}, err
	}

	if rec.ID == "" {
		sum := sha256.Sum256(line)
		rec.ID = hex.EncodeToString(sum[:16])
	}
	return rec, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	case jx.Null:
		return decimal.Zero, d.Null()
	default:
		return decimal.Decimal{}, errors.Errorf("unexpected %s", d.Next())
	}
}

func decodeDate(d *jx.Decoder) (time.Time, error) {
	if d.Next() == jx.Null {
		return time.Time{}, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("unsupported date %q", s)
}
