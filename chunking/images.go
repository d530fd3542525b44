package chunking

import "github.com/google/uuid"

// IndexImagesByPage groups image records by page, keeping input order.
// Images with page <= 0 are not placed on any page and are skipped.
func IndexImagesByPage(images []ImageAsset) map[int][]ImageRef {
	byPage := make(map[int][]ImageRef)
	for _, img := range images {
		if img.Page <= 0 {
			continue
		}
		byPage[img.Page] = append(byPage[img.Page], toImageRef(img))
	}
	return byPage
}

func toImageRef(img ImageAsset) ImageRef {
	ref := ImageRef{
		ImageID:   img.ImageID,
		Page:      img.Page,
		ImagePath: img.ImagePath,
	}
	if img.SessionID != uuid.Nil {
		ref.SessionID = img.SessionID.String()
	}
	if img.DocumentID != uuid.Nil {
		ref.DocumentID = img.DocumentID.String()
	}
	return ref
}

// copyRefs gives each chunk its own slice so callers may mutate one chunk's
// refs without touching its page siblings.
func copyRefs(refs []ImageRef) []ImageRef {
	out := make([]ImageRef, len(refs))
	copy(out, refs)
	return out
}
