package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// ContentType is a selectable kind of resource.
type ContentType struct {
	ID          string
	Description string
	Extensions  []string
}

// KnownContentTypes lists every content type the import pipeline accepts.
var KnownContentTypes = []ContentType{
	{ID: "com.rsa.pkcs12", Description: "PKCS#12 container", Extensions: []string{".p12", ".pfx"}},
	{ID: "public.zip-archive", Description: "ZIP archive of containers", Extensions: []string{".zip"}},
	{ID: "public.tar-archive", Description: "TAR archive of containers", Extensions: []string{".tar", ".tgz", ".tar.gz"}},
	{ID: "com.sun.java-keystore", Description: "Java KeyStore", Extensions: []string{".jks", ".keystore"}},
	{ID: "com.rsa.pkcs7", Description: "PKCS#7 certificate bundle", Extensions: []string{".p7b", ".p7c"}},
}

// DefaultContentTypes returns the content types enabled by default.
func DefaultContentTypes() []string {
	return []string{"com.rsa.pkcs12", "public.zip-archive"}
}

var (
	// ErrUnknownContentType means the resource name matches no content type.
	ErrUnknownContentType = errors.New("unknown content type")

	// ErrContentTypeDisabled means the resource's content type is not enabled.
	ErrContentTypeDisabled = errors.New("content type not enabled")
)

// LookupContentType returns the content type with id.
func LookupContentType(id string) (ContentType, bool) {
	i := slices.IndexFunc(KnownContentTypes, func(ct ContentType) bool { return ct.ID == id })
	if i < 0 {
		return ContentType{}, false
	}
	return KnownContentTypes[i], true
}

// ContentTypeOf returns the content type of a resource name by extension.
func ContentTypeOf(name string) (ContentType, bool) {
	lower := strings.ToLower(name)
	ext := filepath.Ext(lower)
	if strings.HasSuffix(lower, ".tar.gz") {
		ext = ".tar.gz"
	}
	for _, ct := range KnownContentTypes {
		if slices.Contains(ct.Extensions, ext) {
			return ct, true
		}
	}
	return ContentType{}, false
}

// Enabled reports whether the content type id is enabled.
func (c Config) Enabled(id string) bool {
	return slices.Contains(c.ContentTypes, id)
}

// Allows checks a picked resource name against the enabled content types.
func (c Config) Allows(name string) error {
	ct, ok := ContentTypeOf(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownContentType)
	}
	if !c.Enabled(ct.ID) {
		return fmt.Errorf("%s is %s: %w", name, ct.ID, ErrContentTypeDisabled)
	}
	return nil
}
