package document

// Placement math for stamping a signature onto a contract PDF.
//
// The contract generator lays pages out in millimeters measured from the top
// of an A4 page. The stamping surface works in points measured from the
// bottom-left corner, so every vertical coordinate converts through the
// fixed ratio and flips origin here, in one place.

const (
	// MMToPt converts generator millimeters to drawing points.
	MMToPt = 2.835

	pageWidthMM  = 210.0
	pageHeightMM = 297.0

	leftMarginMM = 20.0

	// Signature bounding box, points. Images are fitted inside, never
	// upscaled.
	sigBoxMaxWPt = 100.0
	sigBoxMaxHPt = 40.0

	// The generator forces a page break when too little space remains, so
	// on long documents the signature block starts just under the top
	// margin of the final page. Short documents keep it near the bottom.
	longDocSigFromTopMM    = 35.0
	longDocDateFromTopMM   = 52.0
	shortDocSigFromBotMM   = 52.0
	shortDocDateFromBotMM  = 38.0
	longDocPageThreshold   = 3
)

// PageHeightPt is the A4 height on the stamping surface.
const PageHeightPt = pageHeightMM * MMToPt

// Placement is the resolved stamp geometry on the last page, in points from
// the bottom-left corner.
type Placement struct {
	SigX, SigY   float64
	SigW, SigH   float64
	DateX, DateY float64
}

// ScaleToFit returns the uniform factor that fits w x h inside the box,
// capped at 1 so images are never upscaled.
func ScaleToFit(w, h, maxW, maxH float64) float64 {
	if w <= 0 || h <= 0 {
		return 1
	}
	scale := maxW / w
	if s := maxH / h; s < scale {
		scale = s
	}
	if scale > 1 {
		return 1
	}
	return scale
}

// ComputePlacement resolves where the signature image and date line land on
// the document's last page. The page count drives the heuristic: there is no
// structural anchor in the source PDF, so position is approximated from the
// generator's fixed margins.
func ComputePlacement(pageCount int, imgW, imgH float64) Placement {
	scale := ScaleToFit(imgW, imgH, sigBoxMaxWPt, sigBoxMaxHPt)
	w := imgW * scale
	h := imgH * scale

	x := leftMarginMM * MMToPt

	var sigY, dateY float64
	if pageCount >= longDocPageThreshold {
		// Top-of-page block: offsets measured down from the page top,
		// flipped to the bottom origin.
		sigY = (pageHeightMM-longDocSigFromTopMM)*MMToPt - h
		dateY = (pageHeightMM - longDocDateFromTopMM) * MMToPt
	} else {
		sigY = shortDocSigFromBotMM * MMToPt
		dateY = shortDocDateFromBotMM * MMToPt
	}

	return Placement{
		SigX:  x,
		SigY:  sigY,
		SigW:  w,
		SigH:  h,
		DateX: x,
		DateY: dateY,
	}
}
