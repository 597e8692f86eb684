package registry

import (
	"github.com/samcharles93/mxfkit/pkg/klv"
	"github.com/samcharles93/mxfkit/pkg/mxf"
)

// Baseline returns a registry carrying the structural sets every MXF file
// uses. It is deliberately small: anything beyond the structural core is
// loaded from a dictionary file at startup.
func Baseline() *Registry {
	r := New()
	for _, td := range baselineTypes() {
		r.Register(td)
	}
	return r
}

func pd(name, ul string, kind mxf.Kind, tag uint16) *mxf.PropertyDescriptor {
	return &mxf.PropertyDescriptor{Name: name, Key: klv.MustUL(ul), Kind: kind, StaticTag: tag}
}

func pdBatch(name, ul string, elem mxf.Kind, tag uint16) *mxf.PropertyDescriptor {
	return &mxf.PropertyDescriptor{Name: name, Key: klv.MustUL(ul), Kind: mxf.KindBatch, ElemKind: elem, StaticTag: tag}
}

func baselineTypes() []*mxf.TypeDescriptor {
	instanceUID := pd("InstanceUID", "060e2b34.01010101.01011502.00000000", mxf.KindUUID, 0x3c0a)
	generationUID := pd("GenerationUID", "060e2b34.01010102.05200701.08000000", mxf.KindUUID, 0x0102)

	return []*mxf.TypeDescriptor{
		{
			Name: "Preface",
			Key:  klv.MustUL("060e2b34.02530101.0d010101.01012f00"),
			Properties: []*mxf.PropertyDescriptor{
				instanceUID,
				generationUID,
				pd("LastModifiedDate", "060e2b34.01010102.07020110.02040000", mxf.KindTimestamp, 0x3b02),
				pd("Version", "060e2b34.01010102.03010201.05000000", mxf.KindUInt16, 0x3b05),
				pdBatch("Identifications", "060e2b34.01010102.06010104.06040000", mxf.KindStrongRef, 0x3b06),
				pd("ContentStorage", "060e2b34.01010102.06010104.02010000", mxf.KindStrongRef, 0x3b03),
				pd("OperationalPattern", "060e2b34.01010102.01020203.00000000", mxf.KindUL, 0x3b09),
				pdBatch("EssenceContainers", "060e2b34.01010102.01020210.02010000", mxf.KindUL, 0x3b0a),
				pdBatch("DMSchemes", "060e2b34.01010102.01020210.02020000", mxf.KindUL, 0x3b0b),
			},
		},
		{
			Name: "Identification",
			Key:  klv.MustUL("060e2b34.02530101.0d010101.01013000"),
			Properties: []*mxf.PropertyDescriptor{
				instanceUID,
				pd("ThisGenerationUID", "060e2b34.01010102.05200701.01000000", mxf.KindUUID, 0x3c09),
				pd("CompanyName", "060e2b34.01010102.05200701.02010000", mxf.KindUTF16, 0x3c01),
				pd("ProductName", "060e2b34.01010102.05200701.03010000", mxf.KindUTF16, 0x3c02),
				pd("VersionString", "060e2b34.01010102.05200701.05010000", mxf.KindUTF16, 0x3c04),
				pd("ProductUID", "060e2b34.01010102.05200701.07000000", mxf.KindUUID, 0x3c05),
				pd("ModificationDate", "060e2b34.01010102.07020110.02030000", mxf.KindTimestamp, 0x3c06),
				pd("Platform", "060e2b34.01010102.05200701.06010000", mxf.KindUTF16, 0x3c08),
			},
		},
		{
			Name: "ContentStorage",
			Key:  klv.MustUL("060e2b34.02530101.0d010101.01011800"),
			Properties: []*mxf.PropertyDescriptor{
				instanceUID,
				generationUID,
				pdBatch("Packages", "060e2b34.01010102.06010104.05010000", mxf.KindStrongRef, 0x1901),
				pdBatch("EssenceContainerData", "060e2b34.01010102.06010104.05020000", mxf.KindStrongRef, 0x1902),
			},
		},
		{
			Name: "EssenceContainerData",
			Key:  klv.MustUL("060e2b34.02530101.0d010101.01012300"),
			Properties: []*mxf.PropertyDescriptor{
				instanceUID,
				generationUID,
				pd("LinkedPackageUID", "060e2b34.01010101.06010106.01000000", mxf.KindRaw, 0x2701),
				pd("IndexSID", "060e2b34.01010104.01030405.00000000", mxf.KindUInt32, 0x3f06),
				pd("BodySID", "060e2b34.01010104.01030404.00000000", mxf.KindUInt32, 0x3f07),
			},
		},
		{
			Name: "MaterialPackage",
			Key:  klv.MustUL("060e2b34.02530101.0d010101.01013600"),
			Properties: []*mxf.PropertyDescriptor{
				instanceUID,
				generationUID,
				pd("PackageUID", "060e2b34.01010101.01011510.00000000", mxf.KindRaw, 0x4401),
				pd("Name", "060e2b34.01010101.01030302.01000000", mxf.KindUTF16, 0x4402),
				pd("PackageCreationDate", "060e2b34.01010102.07020110.01030000", mxf.KindTimestamp, 0x4405),
				pd("PackageModifiedDate", "060e2b34.01010102.07020110.02050000", mxf.KindTimestamp, 0x4404),
				pdBatch("Tracks", "060e2b34.01010102.06010104.06050000", mxf.KindStrongRef, 0x4403),
			},
		},
		{
			Name: "SourcePackage",
			Key:  klv.MustUL("060e2b34.02530101.0d010101.01013700"),
			Properties: []*mxf.PropertyDescriptor{
				instanceUID,
				generationUID,
				pd("PackageUID", "060e2b34.01010101.01011510.00000000", mxf.KindRaw, 0x4401),
				pd("Name", "060e2b34.01010101.01030302.01000000", mxf.KindUTF16, 0x4402),
				pd("PackageCreationDate", "060e2b34.01010102.07020110.01030000", mxf.KindTimestamp, 0x4405),
				pd("PackageModifiedDate", "060e2b34.01010102.07020110.02050000", mxf.KindTimestamp, 0x4404),
				pdBatch("Tracks", "060e2b34.01010102.06010104.06050000", mxf.KindStrongRef, 0x4403),
				pd("Descriptor", "060e2b34.01010102.06010104.02030000", mxf.KindStrongRef, 0x4701),
			},
		},
		{
			Name: "Track",
			Key:  klv.MustUL("060e2b34.02530101.0d010101.01013b00"),
			Properties: []*mxf.PropertyDescriptor{
				instanceUID,
				generationUID,
				pd("TrackID", "060e2b34.01010102.01070101.00000000", mxf.KindUInt32, 0x4801),
				pd("TrackNumber", "060e2b34.01010102.01040103.00000000", mxf.KindUInt32, 0x4804),
				pd("TrackName", "060e2b34.01010102.01070102.01000000", mxf.KindUTF16, 0x4802),
				pd("EditRate", "060e2b34.01010102.05300405.00000000", mxf.KindRational, 0x4b01),
				pd("Origin", "060e2b34.01010102.07020103.01030000", mxf.KindUInt64, 0x4b02),
				pd("Sequence", "060e2b34.01010102.06010104.02040000", mxf.KindStrongRef, 0x4803),
			},
		},
		{
			Name: "Sequence",
			Key:  klv.MustUL("060e2b34.02530101.0d010101.01010f00"),
			Properties: []*mxf.PropertyDescriptor{
				instanceUID,
				generationUID,
				pd("DataDefinition", "060e2b34.01010102.04070100.00000000", mxf.KindUL, 0x0201),
				pd("Duration", "060e2b34.01010102.07020201.01030000", mxf.KindUInt64, 0x0202),
				pdBatch("StructuralComponents", "060e2b34.01010102.06010104.06090000", mxf.KindStrongRef, 0x1001),
			},
		},
		{
			Name: "SourceClip",
			Key:  klv.MustUL("060e2b34.02530101.0d010101.01011100"),
			Properties: []*mxf.PropertyDescriptor{
				instanceUID,
				generationUID,
				pd("DataDefinition", "060e2b34.01010102.04070100.00000000", mxf.KindUL, 0x0201),
				pd("Duration", "060e2b34.01010102.07020201.01030000", mxf.KindUInt64, 0x0202),
				pd("StartPosition", "060e2b34.01010102.07020103.01040000", mxf.KindUInt64, 0x1201),
				pd("SourcePackageID", "060e2b34.01010102.06010103.01000000", mxf.KindRaw, 0x1101),
				pd("SourceTrackID", "060e2b34.01010102.06010103.02000000", mxf.KindUInt32, 0x1102),
			},
		},
	}
}
