package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
)

type userGroupsDoc struct {
	All      bool     `bson:"all"`
	New      bool     `bson:"new"`
	Specific []string `bson:"specific,omitempty"`
	Levels   []string `bson:"levels,omitempty"`
}

type voucherDoc struct {
	ID                   string                `bson:"_id"`
	Code                 string                `bson:"code"`
	Description          string                `bson:"description"`
	DiscountType         string                `bson:"discountType"`
	DiscountValue        primitive.Decimal128  `bson:"discountValue"`
	MaxDiscountAmount    *primitive.Decimal128 `bson:"maxDiscountAmount,omitempty"`
	MinimumOrderValue    primitive.Decimal128  `bson:"minimumOrderValue"`
	StartDate            time.Time             `bson:"startDate"`
	EndDate              time.Time             `bson:"endDate"`
	UsageLimit           int64                 `bson:"usageLimit"`
	UsedCount            int64                 `bson:"usedCount"`
	ApplicableUserGroups *userGroupsDoc        `bson:"applicableUserGroups,omitempty"`
}

type redemptionDoc struct {
	ID             string               `bson:"_id"`
	VoucherID      string               `bson:"voucherId"`
	Code           string               `bson:"code"`
	UserID         string               `bson:"userId,omitempty"`
	OrderValue     primitive.Decimal128 `bson:"orderValue"`
	DiscountAmount primitive.Decimal128 `bson:"discountAmount"`
	FinalAmount    primitive.Decimal128 `bson:"finalAmount"`
	ProductIDs     []string             `bson:"productIds"`
	RedeemedAt     time.Time            `bson:"redeemedAt"`
}

var _ voucher.Repository = (*VoucherRepository)(nil)

// VoucherRepository implements voucher.Repository backed by MongoDB.
type VoucherRepository struct {
	vouchers    *mongo.Collection
	redemptions *mongo.Collection
}

// NewVoucherRepository returns a VoucherRepository over the collections of db.
func NewVoucherRepository(db *mongo.Database) *VoucherRepository {
	return &VoucherRepository{
		vouchers:    db.Collection(vouchersCollection),
		redemptions: db.Collection(redemptionsCollection),
	}
}

// FindByCode looks up a voucher by its normalized code.
// Returns voucher.ErrNotFound when no voucher has that code.
func (r *VoucherRepository) FindByCode(ctx context.Context, code string) (*voucher.Voucher, error) {
	var doc voucherDoc
	if err := r.vouchers.FindOne(ctx, bson.M{"code": code}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, voucher.ErrNotFound
		}
		return nil, fmt.Errorf("finding voucher by code %q: %w", code, err)
	}

	v, err := doc.toDomain()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// List returns all vouchers ordered by end date, soonest-expiring first.
func (r *VoucherRepository) List(ctx context.Context) ([]voucher.Voucher, error) {
	opts := options.Find().SetSort(bson.D{{Key: "endDate", Value: 1}, {Key: "code", Value: 1}})
	cur, err := r.vouchers.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing vouchers: %w", err)
	}

	var docs []voucherDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("listing vouchers: %w", err)
	}

	out := make([]voucher.Voucher, 0, len(docs))
	for i := range docs {
		v, err := docs[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ForEachCode calls fn with every stored code without loading the vouchers.
func (r *VoucherRepository) ForEachCode(ctx context.Context, fn func(code string) error) error {
	opts := options.Find().SetProjection(bson.M{"_id": 0, "code": 1})
	cur, err := r.vouchers.Find(ctx, bson.D{}, opts)
	if err != nil {
		return fmt.Errorf("listing voucher codes: %w", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	for cur.Next(ctx) {
		var doc struct {
			Code string `bson:"code"`
		}
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("decoding voucher code: %w", err)
		}
		if err := fn(doc.Code); err != nil {
			return err
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("listing voucher codes: %w", err)
	}
	return nil
}

// IncrementUsedCountIfBelowLimit consumes one use with a conditional $inc and
// then records the redemption. A failed insert gives the use back.
func (r *VoucherRepository) IncrementUsedCountIfBelowLimit(ctx context.Context, red *voucher.Redemption) error {
	doc, err := newRedemptionDoc(red)
	if err != nil {
		return err
	}

	filter := bson.M{
		"_id":   red.VoucherID,
		"$expr": bson.M{"$lt": bson.A{"$usedCount", "$usageLimit"}},
	}
	update := bson.M{
		"$inc": bson.M{"usedCount": 1},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}
	res, err := r.vouchers.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("incrementing used count for voucher %q: %w", red.VoucherID, err)
	}
	if res.MatchedCount == 0 {
		return voucher.ErrExhausted
	}

	if _, err := r.redemptions.InsertOne(ctx, doc); err != nil {
		undo := bson.M{"$inc": bson.M{"usedCount": -1}}
		if _, uerr := r.vouchers.UpdateByID(context.WithoutCancel(ctx), red.VoucherID, undo); uerr != nil {
			return fmt.Errorf("recording redemption %q: %w (releasing use: %v)", red.ID, err, uerr)
		}
		return fmt.Errorf("recording redemption %q: %w", red.ID, err)
	}
	return nil
}

// Upsert inserts a voucher or updates the rules of an existing one with the
// same code. The id and used count of an existing voucher are kept, and its
// usage limit is never lowered below the used count.
func (r *VoucherRepository) Upsert(ctx context.Context, v *voucher.Voucher) error {
	doc, err := newVoucherDoc(v)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"description":          doc.Description,
			"discountType":         doc.DiscountType,
			"discountValue":        doc.DiscountValue,
			"maxDiscountAmount":    doc.MaxDiscountAmount,
			"minimumOrderValue":    doc.MinimumOrderValue,
			"startDate":            doc.StartDate,
			"endDate":              doc.EndDate,
			"applicableUserGroups": doc.ApplicableUserGroups,
			"updatedAt":            now,
		},
		"$setOnInsert": bson.M{
			"_id":        doc.ID,
			"usageLimit": doc.UsageLimit,
			"usedCount":  doc.UsedCount,
			"createdAt":  now,
		},
	}
	res, err := r.vouchers.UpdateOne(ctx, bson.M{"code": doc.Code}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting voucher %q: %w", v.Code, err)
	}
	if res.UpsertedCount > 0 {
		return nil
	}

	// Evaluated against the stored usedCount, so a concurrent redemption
	// cannot leave usedCount above the new limit.
	limit := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"usageLimit": bson.M{"$max": bson.A{doc.UsageLimit, "$usedCount"}},
		}}},
	}
	if _, err := r.vouchers.UpdateOne(ctx, bson.M{"code": doc.Code}, limit); err != nil {
		return fmt.Errorf("updating usage limit of voucher %q: %w", v.Code, err)
	}
	return nil
}

func newVoucherDoc(v *voucher.Voucher) (voucherDoc, error) {
	doc := voucherDoc{
		ID:           v.ID,
		Code:         v.Code,
		Description:  v.Description,
		DiscountType: string(v.DiscountType),
		StartDate:    v.StartDate.UTC(),
		EndDate:      v.EndDate.UTC(),
		UsageLimit:   int64(v.UsageLimit),
		UsedCount:    int64(v.UsedCount),
		ApplicableUserGroups: &userGroupsDoc{
			All:      v.ApplicableUserGroups.All,
			New:      v.ApplicableUserGroups.New,
			Specific: v.ApplicableUserGroups.Specific,
			Levels:   v.ApplicableUserGroups.Levels,
		},
	}

	var err error
	if doc.DiscountValue, err = toDecimal128(v.DiscountValue); err != nil {
		return doc, err
	}
	if doc.MinimumOrderValue, err = toDecimal128(v.MinimumOrderValue); err != nil {
		return doc, err
	}
	if v.MaxDiscountAmount != nil {
		m, err := toDecimal128(*v.MaxDiscountAmount)
		if err != nil {
			return doc, err
		}
		doc.MaxDiscountAmount = &m
	}
	return doc, nil
}

func (doc *voucherDoc) toDomain() (voucher.Voucher, error) {
	v := voucher.Voucher{
		ID:                   doc.ID,
		Code:                 doc.Code,
		Description:          doc.Description,
		DiscountType:         voucher.DiscountType(doc.DiscountType),
		StartDate:            doc.StartDate,
		EndDate:              doc.EndDate,
		UsageLimit:           int(doc.UsageLimit),
		UsedCount:            int(doc.UsedCount),
		ApplicableUserGroups: voucher.Unrestricted(),
	}
	if g := doc.ApplicableUserGroups; g != nil {
		v.ApplicableUserGroups = voucher.UserGroups{
			All:      g.All,
			New:      g.New,
			Specific: g.Specific,
			Levels:   g.Levels,
		}
	}

	var err error
	if v.DiscountValue, err = fromDecimal128(doc.DiscountValue); err != nil {
		return v, fmt.Errorf("voucher %q discount value: %w", doc.Code, err)
	}
	if v.MinimumOrderValue, err = fromDecimal128(doc.MinimumOrderValue); err != nil {
		return v, fmt.Errorf("voucher %q minimum order value: %w", doc.Code, err)
	}
	if doc.MaxDiscountAmount != nil {
		m, err := fromDecimal128(*doc.MaxDiscountAmount)
		if err != nil {
			return v, fmt.Errorf("voucher %q max discount: %w", doc.Code, err)
		}
		v.MaxDiscountAmount = &m
	}
	return v, nil
}

func newRedemptionDoc(r *voucher.Redemption) (redemptionDoc, error) {
	doc := redemptionDoc{
		ID:         r.ID,
		VoucherID:  r.VoucherID,
		Code:       r.Code,
		UserID:     r.UserID,
		ProductIDs: r.ProductIDs,
		RedeemedAt: r.RedeemedAt.UTC(),
	}
	if doc.ProductIDs == nil {
		doc.ProductIDs = []string{}
	}

	var err error
	if doc.OrderValue, err = toDecimal128(r.OrderValue); err != nil {
		return doc, err
	}
	if doc.DiscountAmount, err = toDecimal128(r.DiscountAmount); err != nil {
		return doc, err
	}
	if doc.FinalAmount, err = toDecimal128(r.FinalAmount); err != nil {
		return doc, err
	}
	return doc, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return v, fmt.Errorf("converting %s to decimal128: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(d.String())
}
