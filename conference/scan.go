package conference

import (
	"strconv"
	"strings"
)

// ScanCode is a decoded scanner payload.
type ScanCode struct {
	ProductID ProductID
	SKUID     SKUID
}

// DecodeScan parses "<productId>-<skuId>". Both segments are base-10
// non-negative integers made only of ASCII digits; leading zeros are allowed,
// signs and whitespace are not. Pure, no I/O.
func DecodeScan(code string) (ScanCode, error) {
	parts := strings.Split(code, "-")
	if len(parts) != 2 {
		return ScanCode{}, &CodeFormatError{Code: code, Reason: "expected two segments separated by '-'"}
	}

	product, err := parseSegment(code, parts[0])
	if err != nil {
		return ScanCode{}, err
	}
	sku, err := parseSegment(code, parts[1])
	if err != nil {
		return ScanCode{}, err
	}

	return ScanCode{ProductID: ProductID(product), SKUID: SKUID(sku)}, nil
}

func parseSegment(code, segment string) (int64, error) {
	if segment == "" {
		return 0, &CodeFormatError{Code: code, Reason: "empty segment"}
	}
	for i := 0; i < len(segment); i++ {
		if segment[i] < '0' || segment[i] > '9' {
			return 0, &CodeFormatError{Code: code, Reason: "segment must contain only digits"}
		}
	}
	n, err := strconv.ParseInt(segment, 10, 64)
	if err != nil {
		return 0, &CodeFormatError{Code: code, Reason: "segment out of range"}
	}
	return n, nil
}

// String renders the code in its wire form.
func (c ScanCode) String() string {
	return strconv.FormatInt(int64(c.ProductID), 10) + "-" + strconv.FormatInt(int64(c.SKUID), 10)
}
