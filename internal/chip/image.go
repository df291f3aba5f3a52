package chip

import (
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/andrei-cloud/go_optiga/pkg/metadata"
)

// Image is the persistent part of a chip: its non-volatile objects and the
// security event counter. Sessions and application state are volatile and
// are not part of an image.
type Image struct {
	SecurityCounter int                    `yaml:"security_event_counter"`
	Objects         map[string]ImageObject `yaml:"objects"`
}

// ImageObject is one object in hex form. Key holds raw AES key bytes or a
// PKCS#8 private key, depending on KeyKind.
type ImageObject struct {
	Data     string `yaml:"data,omitempty"`
	Metadata string `yaml:"metadata"`
	KeyKind  string `yaml:"key_kind,omitempty"`
	Key      string `yaml:"key,omitempty"`
}

const (
	keyKindPKCS8 = "pkcs8"
	keyKindAES   = "aes"
)

// Snapshot captures the non-volatile state of the chip.
func (c *Chip) Snapshot() (Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	img := Image{SecurityCounter: c.securityCounter(), Objects: make(map[string]ImageObject, len(c.objects))}
	for oid, obj := range c.objects {
		io := ImageObject{Metadata: hex.EncodeToString(obj.md.Bytes())}
		if len(obj.data) > 0 {
			io.Data = hex.EncodeToString(obj.data)
		}
		switch k := obj.key.(type) {
		case nil:
		case []byte:
			io.KeyKind, io.Key = keyKindAES, hex.EncodeToString(k)
		default:
			der, err := x509.MarshalPKCS8PrivateKey(k)
			if err != nil {
				return Image{}, fmt.Errorf("marshal key %04X: %w", oid, err)
			}
			io.KeyKind, io.Key = keyKindPKCS8, hex.EncodeToString(der)
		}
		img.Objects[fmt.Sprintf("%04X", oid)] = io
	}

	return img, nil
}

// Restore replaces the object store with img. Objects absent from img keep
// their factory state.
func (c *Chip) Restore(img Image) error {
	objs := make(map[uint16]*object, len(img.Objects))
	for name, io := range img.Objects {
		oid, err := strconv.ParseUint(name, 16, 16)
		if err != nil {
			return fmt.Errorf("object id %q: %w", name, err)
		}
		obj, err := io.object()
		if err != nil {
			return fmt.Errorf("object %s: %w", name, err)
		}
		objs[uint16(oid)] = obj
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for oid, obj := range objs {
		c.objects[oid] = obj
	}
	c.sec = img.SecurityCounter
	c.secUpdated = c.now()

	return nil
}

func (io ImageObject) object() (*object, error) {
	raw, err := hex.DecodeString(io.Metadata)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	md, err := metadata.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	data, err := hex.DecodeString(io.Data)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	obj := &object{md: md}
	if len(data) > 0 {
		obj.data = data
	}
	if io.Key == "" {
		return obj, nil
	}
	key, err := hex.DecodeString(io.Key)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	switch io.KeyKind {
	case keyKindAES:
		obj.key = key
	case keyKindPKCS8:
		if obj.key, err = x509.ParsePKCS8PrivateKey(key); err != nil {
			return nil, fmt.Errorf("key: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown key kind %q", io.KeyKind)
	}

	return obj, nil
}

// MarshalImage snapshots the chip as YAML.
func (c *Chip) MarshalImage() ([]byte, error) {
	img, err := c.Snapshot()
	if err != nil {
		return nil, err
	}

	return yaml.Marshal(img)
}

// UnmarshalImage restores the chip from YAML produced by MarshalImage.
func (c *Chip) UnmarshalImage(b []byte) error {
	var img Image
	if err := yaml.Unmarshal(b, &img); err != nil {
		return fmt.Errorf("parse chip image: %w", err)
	}

	return c.Restore(img)
}

// ObjectInfo describes an object without exposing key material.
type ObjectInfo struct {
	OID       string `json:"oid"`
	Kind      string `json:"kind"`
	Size      int    `json:"size"`
	MaxSize   int    `json:"max_size,omitempty"`
	Lifecycle byte   `json:"lifecycle"`
	HasKey    bool   `json:"has_key,omitempty"`
	Readable  bool   `json:"readable"`
}

// Objects lists the object store sorted by OID.
func (c *Chip) Objects() []ObjectInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	oids := make([]int, 0, len(c.objects))
	for oid := range c.objects {
		oids = append(oids, int(oid))
	}
	sort.Ints(oids)

	out := make([]ObjectInfo, 0, len(oids))
	for _, id := range oids {
		oid := uint16(id)
		obj := c.objects[oid]
		info := ObjectInfo{
			OID:       fmt.Sprintf("%04X", oid),
			Kind:      "data",
			Size:      len(c.objectData(oid, obj)),
			MaxSize:   obj.md.MaxSize(),
			Lifecycle: obj.md.Lifecycle(),
			HasKey:    obj.key != nil,
			Readable:  obj.md.MaxSize() > 0 && c.allowed(obj, metadata.TagRead, &request{}),
		}
		if info.MaxSize == 0 {
			info.Kind, info.Size = "key", 0
		}
		out = append(out, info)
	}

	return out
}

// Metadata returns the encoded metadata of oid the way a metadata read reports it.
func (c *Chip) Metadata(oid uint16) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objects[oid]
	if !ok {
		return nil, false
	}

	return c.reportedMetadata(oid, obj).Bytes(), true
}

// ReadPublic returns the data of oid when its read condition holds without
// any session or integrity context.
func (c *Chip) ReadPublic(oid uint16) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objects[oid]
	if !ok || obj.md.MaxSize() == 0 || !c.allowed(obj, metadata.TagRead, &request{}) {
		return nil, false
	}

	return append([]byte(nil), c.objectData(oid, obj)...), true
}
