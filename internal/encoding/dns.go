package encoding

import "strings"

// MaxLabelLen is the maximum length of a single DNS label per RFC 1035.
const MaxLabelLen = 63

// MaxHostLen is the maximum total hostname length per RFC 1035.
const MaxHostLen = 253

// labelDots returns the number of dots needed between the labels of
// encLen encoded bytes.
func labelDots(encLen int) int {
	if encLen <= 0 {
		return 0
	}
	return (encLen - 1) / MaxLabelLen
}

// RawLengthFromDNS returns the maximum number of raw bytes that can be
// encoded into a query name of at most hostLen bytes ending in topdomain.
// The budget covers the encoded data labels, the dots between them, and
// the dot before topdomain.
func RawLengthFromDNS(hostLen int, enc Encoder, topdomain string) int {
	budget := hostLen - len(topdomain) - 1
	if budget <= 0 {
		return 0
	}
	encLen := budget
	for encLen > 0 && encLen+labelDots(encLen) > budget {
		encLen--
	}
	if enc == nil {
		return encLen
	}
	return enc.RawLength(encLen)
}

// EncodedDNSLength returns the hostname length produced by encoding
// rawLen bytes, splitting into labels, and appending topdomain.
func EncodedDNSLength(rawLen int, enc Encoder, topdomain string) int {
	encLen := rawLen
	if enc != nil {
		encLen = enc.EncodedLength(rawLen)
	}
	return encLen + labelDots(encLen) + 1 + len(topdomain)
}

// SplitIntoLabels splits an encoded string into DNS labels of at most
// MaxLabelLen characters.
func SplitIntoLabels(s string) []string {
	var labels []string
	for len(s) > 0 {
		end := MaxLabelLen
		if end > len(s) {
			end = len(s)
		}
		labels = append(labels, s[:end])
		s = s[end:]
	}
	return labels
}

// JoinLabels joins DNS labels back into a single encoded string.
func JoinLabels(labels []string) string {
	return strings.Join(labels, "")
}
