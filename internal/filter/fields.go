package filter

import "github.com/veloxdb/veloxdb/internal/store"

// Named field keys exposed on every flattened VectorEntry.Metadata map.
const (
	FieldDate       = "date"
	FieldDocumentType = "document_type"
	FieldSourceFile = "source_file"
	FieldAsset      = "asset"
	FieldBias       = "bias"
	FieldGoldPrice  = "gold_price"
	FieldSilverPrice = "silver_price"
	FieldGSR        = "gsr"
	FieldDXY        = "dxy"
	FieldVIX        = "vix"
	FieldYield10Y   = "yield_10y"
)

// Schema describes the named fields of store.Metadata for
// NewFilterParser, so callers get type-checked ParseValue behavior for the
// fixed fields while custom keys remain untyped strings.
func Schema() map[string]FieldType {
	return map[string]FieldType{
		FieldDate:        TimeField,
		FieldDocumentType: StringField,
		FieldSourceFile:  StringField,
		FieldAsset:       StringField,
		FieldBias:        StringField,
		FieldGoldPrice:   FloatField,
		FieldSilverPrice: FloatField,
		FieldGSR:         FloatField,
		FieldDXY:         FloatField,
		FieldVIX:         FloatField,
		FieldYield10Y:    FloatField,
	}
}

// FieldsOf flattens a store.Metadata record into the map the
// equality/range/containment/logical filters operate over. Empty/unset
// named fields are omitted rather than included as zero values, so
// EqualityFilter's "field exists" check behaves the same way it would
// against a sparse map[string]interface{}. Custom keys are merged in
// directly, so a custom key sharing a name with a named field is shadowed
// by the named field.
func FieldsOf(meta *store.Metadata) map[string]interface{} {
	fields := make(map[string]interface{}, 8+len(meta.Custom))

	for k, v := range meta.Custom {
		fields[k] = v
	}

	if meta.Date != "" {
		fields[FieldDate] = meta.Date
	}
	fields[FieldDocumentType] = meta.Type.String()
	if meta.SourceFile != "" {
		fields[FieldSourceFile] = meta.SourceFile
	}
	if meta.Asset != "" {
		fields[FieldAsset] = meta.Asset
	}
	if meta.Bias != "" {
		fields[FieldBias] = meta.Bias
	}
	if meta.GoldPrice != nil {
		fields[FieldGoldPrice] = *meta.GoldPrice
	}
	if meta.SilverPrice != nil {
		fields[FieldSilverPrice] = *meta.SilverPrice
	}
	if meta.GSR != nil {
		fields[FieldGSR] = *meta.GSR
	}
	if meta.DXY != nil {
		fields[FieldDXY] = *meta.DXY
	}
	if meta.VIX != nil {
		fields[FieldVIX] = *meta.VIX
	}
	if meta.Yield10Y != nil {
		fields[FieldYield10Y] = *meta.Yield10Y
	}

	return fields
}
