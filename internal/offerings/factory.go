package offerings

import (
	"encoding/json"

	"github.com/golang/glog"

	"purchases/internal/store"
)

// Wire shapes of the backend offerings payload.
type wirePackage struct {
	Identifier                string `json:"identifier"`
	PlatformProductIdentifier string `json:"platform_product_identifier"`
}

type wireOffering struct {
	Identifier  string        `json:"identifier"`
	Description string        `json:"description"`
	Packages    []wirePackage `json:"packages"`
}

type wirePayload struct {
	Offerings         []wireOffering `json:"offerings"`
	CurrentOfferingID string         `json:"current_offering_id"`
}

// ProductIdentifiers extracts every platform product identifier declared in a
// raw offerings payload, so the store lookup can be issued before assembly.
func ProductIdentifiers(raw []byte) []string {
	var payload wirePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, off := range payload.Offerings {
		for _, pkg := range off.Packages {
			if !seen[pkg.PlatformProductIdentifier] {
				seen[pkg.PlatformProductIdentifier] = true
				ids = append(ids, pkg.PlatformProductIdentifier)
			}
		}
	}
	return ids
}

// CreateOfferings assembles the offerings container from the raw backend
// payload and the resolved store products. A payload without an "offerings"
// key at all is malformed and yields nil; an empty offerings array is valid
// and yields a container with no current offering.
func CreateOfferings(raw []byte, products map[string]store.Product) *Offerings {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		glog.Warningf("malformed offerings payload: %v", err)
		return nil
	}
	if _, ok := probe["offerings"]; !ok {
		glog.Warning("offerings payload missing offerings key")
		return nil
	}

	var payload wirePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		glog.Warningf("malformed offerings payload: %v", err)
		return nil
	}

	all := make(map[string]*Offering, len(payload.Offerings))
	for _, wire := range payload.Offerings {
		if offering := createOffering(wire, products); offering != nil {
			all[offering.Identifier] = offering
		}
	}

	return &Offerings{All: all, currentOfferingID: payload.CurrentOfferingID}
}

// createOffering builds one offering, keeping only packages whose product
// resolved and preserving declared order. With zero resolvable packages the
// offering is dropped entirely.
func createOffering(wire wireOffering, products map[string]store.Product) *Offering {
	var packages []Package
	for _, pkg := range wire.Packages {
		product, ok := products[pkg.PlatformProductIdentifier]
		if !ok {
			glog.V(2).Infof("dropping package %s: product %s not resolved", pkg.Identifier, pkg.PlatformProductIdentifier)
			continue
		}
		packages = append(packages, Package{
			Identifier: pkg.Identifier,
			Type:       ParsePackageType(pkg.Identifier),
			Product:    product,
			OfferingID: wire.Identifier,
		})
	}
	if len(packages) == 0 {
		glog.Warningf("dropping offering %s: no package resolved to a store product", wire.Identifier)
		return nil
	}
	return &Offering{
		Identifier:        wire.Identifier,
		ServerDescription: wire.Description,
		AvailablePackages: packages,
	}
}
