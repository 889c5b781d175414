package pagemanager

// --- Page Management ---

const (
	// DefaultPageSize is the fixed block size of the page file.
	DefaultPageSize = 4096

	// MetaPageID is reserved for the tree metadata block.
	MetaPageID PageID = 0
)

// PageID represents a unique identifier for a page on disk. Page N lives at
// byte offset N*pageSize.
type PageID uint32

// Page represents an in-memory copy of a disk page.
type Page struct {
	id   PageID
	data []byte
}

// NewPage creates a new zeroed Page instance.
func NewPage(id PageID, size int) *Page {
	return &Page{
		id:   id,
		data: make([]byte, size),
	}
}

func (p *Page) GetData() []byte   { return p.data }
func (p *Page) GetPageID() PageID { return p.id }
