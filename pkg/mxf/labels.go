package mxf

import "github.com/samcharles93/mxfkit/pkg/klv"

// Well-known universal labels. Key comparisons against these go through
// Matches with the family mask so registry/version byte differences between
// format revisions are tolerated.
var (
	// ULPrimer is the primer pack set key.
	ULPrimer = klv.MustUL("060e2b34.02050101.0d010201.01050100")

	// ULFill is the KLV-Fill item key (SMPTE 377-1 revision; the older
	// revision differs only in the version byte, which the mask ignores).
	ULFill = klv.MustUL("060e2b34.01010102.03010210.01000000")

	// ULIndexSegment is the index table segment set key.
	ULIndexSegment = klv.MustUL("060e2b34.02530101.0d010201.01100100")

	// ULInstanceUID is the InstanceUID property key present on every
	// header metadata set.
	ULInstanceUID = klv.MustUL("060e2b34.01010101.01011502.00000000")
)

// partitionPrefix is the fixed front of every partition pack key. Byte 13
// carries the partition kind and byte 14 the open/closed completeness
// status.
var partitionPrefix = []byte{
	0x06, 0x0e, 0x2b, 0x34, 0x02, 0x05, 0x01, 0x01,
	0x0d, 0x01, 0x02, 0x01, 0x01,
}

// PartitionKind distinguishes header, body, and footer partitions.
type PartitionKind uint8

const (
	KindHeader PartitionKind = 0x02
	KindBody   PartitionKind = 0x03
	KindFooter PartitionKind = 0x04
)

func (k PartitionKind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindBody:
		return "body"
	case KindFooter:
		return "footer"
	}
	return "unknown"
}

// IsPartitionKey reports whether ul is a partition pack key of any kind.
func IsPartitionKey(ul klv.UL) bool {
	if !ul.HasPrefix(partitionPrefix) {
		return false
	}
	k := PartitionKind(ul[13])
	return k == KindHeader || k == KindBody || k == KindFooter
}

// IsFillKey reports whether ul is a KLV-Fill item of either revision.
func IsFillKey(ul klv.UL) bool {
	return ul.Matches(ULFill, klv.MaskIgnoreVersion)
}

// IsPrimerKey reports whether ul is a primer pack key.
func IsPrimerKey(ul klv.UL) bool {
	return ul.Matches(ULPrimer, klv.MaskIgnoreVersion)
}

// IsIndexKey reports whether ul is an index table segment key.
func IsIndexKey(ul klv.UL) bool {
	return ul.Matches(ULIndexSegment, klv.MaskIgnoreVersion)
}

// IsHeaderMetadataKey reports whether ul belongs to the header metadata set
// family: a SMPTE groups-registry key that is not a partition pack, primer,
// fill, or index segment.
func IsHeaderMetadataKey(ul klv.UL) bool {
	if !ul.IsSMPTE() || ul[4] != 0x02 {
		return false
	}
	if IsPartitionKey(ul) || IsPrimerKey(ul) || IsIndexKey(ul) {
		return false
	}
	return true
}
