package codec

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Bundle is the decoded form of one on-disk protocol-definition file, as
// described in SPEC_FULL.md §4.5. It carries one protocol version's full
// name/opcode map and per-message schema versions, plus an optional
// system-message table shared with pkg/sysmsg.
type Bundle struct {
	ProtocolVersion int                        `yaml:"protocolVersion" mapstructure:"protocolVersion" validate:"required"`
	Revision        string                     `yaml:"revision" mapstructure:"revision" validate:"required"`
	Messages        map[string]bundleMessage   `yaml:"messages" mapstructure:"messages" validate:"required,dive"`
	SystemMessages  map[string]int             `yaml:"systemMessages" mapstructure:"systemMessages"`
}

type bundleMessage struct {
	Opcode   uint16                    `yaml:"opcode" mapstructure:"opcode"`
	Versions map[int]bundleFieldList `yaml:"versions" mapstructure:"versions" validate:"required,dive"`
}

type bundleFieldList struct {
	Fields []bundleField `yaml:"fields" mapstructure:"fields" validate:"dive"`
}

type bundleField struct {
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
	Kind string `yaml:"kind" mapstructure:"kind" validate:"required"`
}

var bundleValidator = validator.New()

// LoadBundle reads a protocol-definition YAML file from disk, decodes it
// with yaml.v3 into a loosely-typed map, re-decodes that map through
// mapstructure into the typed Bundle shape (the same two-pass decode the
// teacher's config loader uses for its own file), validates it with
// struct tags, and on any failure returns ErrInvalidBundle wrapping the
// underlying read, decode or validation error. A bundle that fails
// validation is never partially returned.
func LoadBundle(path string) (*Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newErr(ErrInvalidBundle, fmt.Sprintf("reading bundle %s", path), err)
	}

	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, newErr(ErrInvalidBundle, fmt.Sprintf("parsing YAML in %s", path), err)
	}

	var b Bundle
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &b,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, newErr(ErrInvalidBundle, "constructing bundle decoder", err)
	}
	if err := decoder.Decode(generic); err != nil {
		return nil, newErr(ErrInvalidBundle, fmt.Sprintf("decoding bundle %s", path), err)
	}

	if err := bundleValidator.Struct(&b); err != nil {
		return nil, newErr(ErrInvalidBundle, fmt.Sprintf("validating bundle %s", path), err)
	}

	return &b, nil
}

// IntoRegistry populates a MemoryRegistry from a decoded Bundle. It is
// kept separate from LoadBundle so callers that already have a Bundle
// (e.g. one merged from several partial files) can still reach the
// registry population step.
func (b *Bundle) IntoRegistry(r *MemoryRegistry) error {
	pv := ProtoVersion(b.ProtocolVersion)
	for name, msg := range b.Messages {
		for defVer, list := range msg.Versions {
			fields := make([]FieldSpec, 0, len(list.Fields))
			for _, f := range list.Fields {
				kind, err := parseFieldKind(f.Kind)
				if err != nil {
					return newErr(ErrInvalidBundle, fmt.Sprintf("message %s v%d field %q", name, defVer, f.Name), err)
				}
				fields = append(fields, FieldSpec{Name: f.Name, Kind: kind})
			}
			r.AddMessage(pv, Schema{
				Name:   name,
				Opcode: msg.Opcode,
				DefVer: DefVersion(defVer),
				Fields: fields,
			})
		}
	}
	r.SetRevision(pv, b.Revision)
	return nil
}

func parseFieldKind(s string) (FieldKind, error) {
	switch s {
	case "uint8":
		return FieldUint8, nil
	case "uint16":
		return FieldUint16, nil
	case "uint32":
		return FieldUint32, nil
	case "uint64":
		return FieldUint64, nil
	case "int8":
		return FieldInt8, nil
	case "int16":
		return FieldInt16, nil
	case "int32":
		return FieldInt32, nil
	case "int64":
		return FieldInt64, nil
	case "string":
		return FieldString, nil
	case "bytes":
		return FieldBytes, nil
	case "float32":
		return FieldFloat32, nil
	case "float64":
		return FieldFloat64, nil
	default:
		return 0, fmt.Errorf("unknown field kind %q", s)
	}
}

// BundleJSONSchema reflects the Bundle type into a self-describing JSON
// Schema document for the bundle format. No CLI command emits it, and it
// is never used to validate bundle instances at load time; that is
// LoadBundle's job via struct tags above.
func BundleJSONSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	schema := reflector.Reflect(&Bundle{})
	schema.Title = "Protocol Definition Bundle"
	schema.Description = "On-disk protocol version bundle: name/opcode map, per-message field schemas, and an optional system-message table."
	return schema
}
