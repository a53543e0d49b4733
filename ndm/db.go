package ndm

import (
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/buckyos/nds/internal/ndserr"
)

// objRefRow is the `chunks` table: despite the legacy column name, it
// tracks the reference count of any ObjId a path binds to, not only
// raw content chunks.
type objRefRow struct {
	ChunkID    string `gorm:"column:chunk_id;primaryKey"`
	RefCount   int    `gorm:"column:ref_count"`
	AccessTime int64  `gorm:"column:access_time"`
	Size       int64  `gorm:"column:size"`
}

func (objRefRow) TableName() string { return "chunks" }

// pathRow is the `paths` table: one durable path → object binding.
type pathRow struct {
	Path    string  `gorm:"column:path;primaryKey"`
	ChunkID string  `gorm:"column:chunk_id;index"`
	AppID   string  `gorm:"column:app_id"`
	UserID  string  `gorm:"column:user_id"`
	JWT     *string `gorm:"column:jwt"`
}

func (pathRow) TableName() string { return "paths" }

// pathIndex owns the path↔object binding database, backed by the same
// gorm + glebarez/sqlite pairing used for the ndm metadata store.
type pathIndex struct {
	db *gorm.DB
}

// openPathIndex opens (creating if absent) the ndn_mgr.db index at dsn.
func openPathIndex(dsn string) (*pathIndex, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, ndserr.Wrap(ndserr.DbError, "open path index", err)
	}
	if err := db.AutoMigrate(&objRefRow{}, &pathRow{}); err != nil {
		return nil, ndserr.Wrap(ndserr.DbError, "migrate path index", err)
	}
	return &pathIndex{db: db}, nil
}

// CreateFile inserts path bound to objID, incrementing objID's
// reference count (inserting its row at ref_count=1 if absent).
func (p *pathIndex) CreateFile(path, objID, appID, userID string) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		var existing pathRow
		err := tx.First(&existing, "path = ?", path).Error
		if err == nil {
			return ndserr.New(ndserr.AlreadyExists, "path already bound")
		}
		if err != gorm.ErrRecordNotFound {
			return ndserr.Wrap(ndserr.DbError, "lookup path", err)
		}

		if err := incrementRefCount(tx, objID); err != nil {
			return err
		}
		row := pathRow{Path: path, ChunkID: objID, AppID: appID, UserID: userID}
		if err := tx.Create(&row).Error; err != nil {
			return ndserr.Wrap(ndserr.DbError, "insert path", err)
		}
		return nil
	})
}

// SetFile rebinds path to newObjID, decrementing the old binding's
// reference count and incrementing the new one's, all in one
// transaction. If path did not previously exist, this behaves like
// CreateFile.
func (p *pathIndex) SetFile(path, newObjID, appID, userID string) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		var existing pathRow
		err := tx.First(&existing, "path = ?", path).Error
		switch {
		case err == nil:
			if err := decrementRefCount(tx, existing.ChunkID); err != nil {
				return err
			}
		case err == gorm.ErrRecordNotFound:
			// no previous binding to release
		default:
			return ndserr.Wrap(ndserr.DbError, "lookup path", err)
		}

		if err := incrementRefCount(tx, newObjID); err != nil {
			return err
		}
		row := pathRow{Path: path, ChunkID: newObjID, AppID: appID, UserID: userID}
		if err := tx.Save(&row).Error; err != nil {
			return ndserr.Wrap(ndserr.DbError, "upsert path", err)
		}
		return nil
	})
}

// RemoveFile deletes path and decrements the object it pointed to.
func (p *pathIndex) RemoveFile(path string) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		var existing pathRow
		if err := tx.First(&existing, "path = ?", path).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ndserr.New(ndserr.NotFound, "path not bound")
			}
			return ndserr.Wrap(ndserr.DbError, "lookup path", err)
		}
		if err := tx.Delete(&pathRow{}, "path = ?", path).Error; err != nil {
			return ndserr.Wrap(ndserr.DbError, "delete path", err)
		}
		return decrementRefCount(tx, existing.ChunkID)
	})
}

// RemoveDir removes every path under prefix in one transaction.
func (p *pathIndex) RemoveDir(prefix string) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		var rows []pathRow
		if err := tx.Where("path LIKE ?", prefix+"%").Find(&rows).Error; err != nil {
			return ndserr.Wrap(ndserr.DbError, "enumerate dir", err)
		}
		for _, row := range rows {
			if err := tx.Delete(&pathRow{}, "path = ?", row.Path).Error; err != nil {
				return ndserr.Wrap(ndserr.DbError, "delete path", err)
			}
			if err := decrementRefCount(tx, row.ChunkID); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetObjIdByPath returns the exact binding for path.
func (p *pathIndex) GetObjIdByPath(path string) (pathRow, error) {
	var row pathRow
	if err := p.db.First(&row, "path = ?", path).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return pathRow{}, ndserr.New(ndserr.NotFound, "path not bound")
		}
		return pathRow{}, ndserr.Wrap(ndserr.DbError, "lookup path", err)
	}
	return row, nil
}

// SelectObjIdByPath resolves the longest path p in the index such that
// p is a prefix of query, returning the binding and the remainder of
// query past p.
func (p *pathIndex) SelectObjIdByPath(query string) (pathRow, string, error) {
	var rows []pathRow
	if err := p.db.Find(&rows).Error; err != nil {
		return pathRow{}, "", ndserr.Wrap(ndserr.DbError, "scan paths", err)
	}

	var best *pathRow
	for i := range rows {
		row := rows[i]
		if row.Path == query || strings.HasPrefix(query, row.Path) {
			if best == nil || len(row.Path) > len(best.Path) {
				rowCopy := row
				best = &rowCopy
			}
		}
	}
	if best == nil {
		return pathRow{}, "", ndserr.New(ndserr.NotFound, "no path prefix matches")
	}
	return *best, query[len(best.Path):], nil
}

// SignPathObj attaches a signed JWT to an existing path binding.
func (p *pathIndex) SignPathObj(path, signedJWT string) error {
	res := p.db.Model(&pathRow{}).Where("path = ?", path).Update("jwt", signedJWT)
	if res.Error != nil {
		return ndserr.Wrap(ndserr.DbError, "sign path", res.Error)
	}
	if res.RowsAffected == 0 {
		return ndserr.New(ndserr.NotFound, "path not bound")
	}
	return nil
}

// RefCount returns objID's current reference count, or 0 if it has no row.
func (p *pathIndex) RefCount(objID string) (int, error) {
	var row objRefRow
	err := p.db.First(&row, "chunk_id = ?", objID).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, ndserr.Wrap(ndserr.DbError, "lookup ref count", err)
	}
	return row.RefCount, nil
}

func incrementRefCount(tx *gorm.DB, objID string) error {
	var row objRefRow
	err := tx.First(&row, "chunk_id = ?", objID).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		row = objRefRow{ChunkID: objID, RefCount: 1, AccessTime: nowUnix()}
		if err := tx.Create(&row).Error; err != nil {
			return ndserr.Wrap(ndserr.DbError, "insert ref count row", err)
		}
		return nil
	case err != nil:
		return ndserr.Wrap(ndserr.DbError, "lookup ref count row", err)
	default:
		row.RefCount++
		row.AccessTime = nowUnix()
		if err := tx.Save(&row).Error; err != nil {
			return ndserr.Wrap(ndserr.DbError, "increment ref count", err)
		}
		return nil
	}
}

func decrementRefCount(tx *gorm.DB, objID string) error {
	var row objRefRow
	err := tx.First(&row, "chunk_id = ?", objID).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return ndserr.Wrap(ndserr.DbError, "lookup ref count row", err)
	}
	row.RefCount--
	if row.RefCount <= 0 {
		if err := tx.Delete(&objRefRow{}, "chunk_id = ?", objID).Error; err != nil {
			return ndserr.Wrap(ndserr.DbError, "delete ref count row", err)
		}
		return nil
	}
	if err := tx.Save(&row).Error; err != nil {
		return ndserr.Wrap(ndserr.DbError, "decrement ref count", err)
	}
	return nil
}

// nowUnix is overridable in tests; production uses wall-clock time.
var nowUnix = func() int64 { return time.Now().Unix() }
