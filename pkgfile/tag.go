package pkgfile

import "fmt"

// ---------------------------------------------------------------------------
// Tagged Property Lists
// ---------------------------------------------------------------------------

// TagType is the type code in the low four bits of a tag's info byte.
type TagType uint8

const (
	TagByte   TagType = 1
	TagInt    TagType = 2
	TagBool   TagType = 3
	TagFloat  TagType = 4
	TagObject TagType = 5
	TagName   TagType = 6
	TagClass  TagType = 8
	TagArray  TagType = 9
	TagStruct TagType = 10
	TagStr    TagType = 13
	TagMap    TagType = 14
)

var tagTypeNames = map[TagType]string{
	TagByte:   "byte",
	TagInt:    "int",
	TagBool:   "bool",
	TagFloat:  "float",
	TagObject: "object",
	TagName:   "name",
	TagClass:  "class",
	TagArray:  "array",
	TagStruct: "struct",
	TagStr:    "string",
	TagMap:    "map",
}

func (t TagType) String() string {
	if n, ok := tagTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// Sizes addressed by the inline size codes 0 through 4.
var tagInlineSizes = [...]int32{1, 2, 4, 12, 16}

// PropertyTag heads one value in a tagged property list. Name and StructName
// index the package's name table. Size is the byte length of the value that
// follows; bools carry their value in the tag and have Size 0.
type PropertyTag struct {
	Name       int32
	Type       TagType
	Size       int32
	ArrayIndex int32
	BoolValue  bool
	StructName int32
}

// Tag reads the next tag of a tagged property list. none is the name index
// spelling "None"; reaching it ends the list and Tag returns false.
func (d *Decoder) Tag(none int32) (PropertyTag, bool) {
	var t PropertyTag
	t.Name = d.Compact()
	if d.err != nil || t.Name == none {
		return t, false
	}

	info := d.U8()
	t.Type = TagType(info & 0x0F)
	sizeCode := (info >> 4) & 0x07
	flag := info&0x80 != 0

	if t.Type == TagStruct {
		t.StructName = d.Compact()
	}

	switch {
	case sizeCode < 5:
		t.Size = tagInlineSizes[sizeCode]
	case sizeCode == 5:
		t.Size = int32(d.U8())
	case sizeCode == 6:
		t.Size = int32(d.U16())
	default:
		t.Size = d.I32()
	}

	if t.Type == TagBool {
		t.BoolValue = flag
		t.Size = 0
	} else if flag {
		t.ArrayIndex = d.arrayIndex()
	}

	if d.err == nil && (t.Size < 0 || int(t.Size) > d.Remaining()) {
		d.fail(fmt.Errorf("%w: tagged value of %d bytes", ErrTruncated, t.Size))
	}
	return t, d.err == nil
}

// arrayIndex reads a 1, 2 or 4 byte index selected by its high bits.
func (d *Decoder) arrayIndex() int32 {
	b := d.U8()
	switch {
	case b&0x80 == 0:
		return int32(b)
	case b&0xC0 == 0x80:
		return int32(b&0x7F)<<8 | int32(d.U8())
	default:
		rest := d.Bytes(3)
		if rest == nil {
			return 0
		}
		return int32(b&0x3F)<<24 | int32(rest[0])<<16 | int32(rest[1])<<8 | int32(rest[2])
	}
}

// Tag writes a tag with the smallest size code that fits t.Size.
func (e *Encoder) Tag(t PropertyTag) {
	e.Compact(t.Name)

	size := t.Size
	if t.Type == TagBool {
		size = 0
	}
	var code uint8
	switch {
	case size == 1:
		code = 0
	case size == 2:
		code = 1
	case size == 4:
		code = 2
	case size == 12:
		code = 3
	case size == 16:
		code = 4
	case size <= 0xFF:
		code = 5
	case size <= 0xFFFF:
		code = 6
	default:
		code = 7
	}

	info := uint8(t.Type)&0x0F | code<<4
	if t.Type == TagBool {
		if t.BoolValue {
			info |= 0x80
		}
	} else if t.ArrayIndex != 0 {
		info |= 0x80
	}
	e.U8(info)

	if t.Type == TagStruct {
		e.Compact(t.StructName)
	}
	switch code {
	case 5:
		e.U8(uint8(size))
	case 6:
		e.U16(uint16(size))
	case 7:
		e.I32(size)
	}

	if t.Type != TagBool && t.ArrayIndex != 0 {
		switch i := t.ArrayIndex; {
		case i < 0x80:
			e.U8(uint8(i))
		case i < 0x4000:
			e.U8(uint8(i>>8) | 0x80)
			e.U8(uint8(i))
		default:
			e.U8(uint8(i>>24)&0x3F | 0xC0)
			e.U8(uint8(i >> 16))
			e.U8(uint8(i >> 8))
			e.U8(uint8(i))
		}
	}
}

// EndTags terminates a tagged property list.
func (e *Encoder) EndTags(none int32) { e.Compact(none) }
