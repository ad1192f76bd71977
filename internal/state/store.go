package state

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type command struct {
	fn   func(*snapshot)
	done chan struct{}
}

// Store holds the current task id and the uploaded-file list. Every
// operation is a command executed by a single goroutine, so each call,
// including Update, is atomic with respect to all other calls.
// Storage failures are logged and never returned: memory stays updated.
type Store struct {
	storage Storage
	cmds    chan command
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
	mem     snapshot
}

// NewStore starts the command loop over the given storage.
func NewStore(storage Storage) *Store {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	s := &Store{
		storage: storage,
		cmds:    make(chan command),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	s.mem.reset()
	go s.run()
	return s
}

func (s *Store) run() {
	defer close(s.stopped)
	for {
		select {
		case cmd := <-s.cmds:
			cmd.fn(&s.mem)
			close(cmd.done)
		case <-s.quit:
			return
		}
	}
}

// exec runs fn on the command loop and waits for it. It reports false
// once the store is closed.
func (s *Store) exec(fn func(*snapshot)) bool {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case s.cmds <- cmd:
	case <-s.quit:
		return false
	}
	<-cmd.done
	return true
}

// Close stops the command loop. Calls made afterwards are no-ops.
func (s *Store) Close() {
	s.once.Do(func() { close(s.quit) })
	<-s.stopped
}

// Tx is the view of the state handed to Update callbacks.
type Tx struct {
	st         *snapshot
	taskDirty  bool
	filesDirty bool
	filesWiped bool
}

func (tx *Tx) CurrentTaskID() string { return tx.st.taskID }

// SetCurrentTaskID tracks id; an empty id clears the tracked task.
func (tx *Tx) SetCurrentTaskID(id string) {
	tx.st.taskID = id
	tx.taskDirty = true
}

func (tx *Tx) Files() []UploadedFile { return tx.st.copyFiles() }

// AddFile inserts f unless its original name is already listed. A known
// file only has its server name (and metadata, when given) refreshed.
func (tx *Tx) AddFile(f UploadedFile) {
	if f.OriginalName == "" {
		return
	}
	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now().UTC()
	}
	if i := tx.st.index(f.OriginalName); i >= 0 {
		existing := &tx.st.files[i]
		if f.ServerName != "" {
			existing.ServerName = f.ServerName
		}
		if f.Size > 0 {
			existing.Size = f.Size
		}
		if f.MIMEType != "" {
			existing.MIMEType = f.MIMEType
		}
		if f.TaskID != "" {
			existing.TaskID = f.TaskID
		}
	} else {
		tx.st.files = append(tx.st.files, f)
	}
	tx.st.mapping[f.OriginalName] = tx.st.files[tx.st.index(f.OriginalName)].MappedName()
	tx.filesDirty = true
}

// RemoveFile drops the entry whose original or server name equals name.
func (tx *Tx) RemoveFile(name string) bool {
	for i, f := range tx.st.files {
		if f.OriginalName == name || (f.ServerName != "" && f.ServerName == name) {
			tx.st.files = append(tx.st.files[:i], tx.st.files[i+1:]...)
			delete(tx.st.mapping, f.OriginalName)
			tx.filesDirty = true
			return true
		}
	}
	return false
}

func (tx *Tx) MappedFilename(original string) string {
	if mapped, ok := tx.st.mapping[original]; ok && mapped != "" {
		return mapped
	}
	return original
}

// ClearFiles empties the list and mapping and removes their keys.
func (tx *Tx) ClearFiles() {
	tx.st.reset()
	tx.filesWiped = true
	tx.filesDirty = false
}

// Update rehydrates from storage, runs fn and writes back what fn changed.
func (s *Store) Update(fn func(tx *Tx)) {
	s.exec(func(st *snapshot) {
		tx := &Tx{st: st}
		s.rehydrate(st)
		fn(tx)
		s.persist(tx)
	})
}

// View rehydrates from storage and runs fn without writing anything.
func (s *Store) View(fn func(tx *Tx)) {
	s.exec(func(st *snapshot) {
		s.rehydrate(st)
		fn(&Tx{st: st})
	})
}

func (s *Store) CurrentTaskID() string {
	var id string
	s.View(func(tx *Tx) { id = tx.CurrentTaskID() })
	return id
}

func (s *Store) SetCurrentTaskID(id string) {
	s.Update(func(tx *Tx) { tx.SetCurrentTaskID(id) })
}

func (s *Store) UploadedFiles() []UploadedFile {
	var files []UploadedFile
	s.View(func(tx *Tx) { files = tx.Files() })
	return files
}

func (s *Store) AddFile(f UploadedFile) {
	s.Update(func(tx *Tx) { tx.AddFile(f) })
}

// AddFileToUploadedFiles records original, mapped to serverName when given.
func (s *Store) AddFileToUploadedFiles(original, serverName string) {
	s.AddFile(UploadedFile{OriginalName: original, ServerName: serverName})
}

func (s *Store) RemoveFile(name string) bool {
	removed := false
	s.Update(func(tx *Tx) { removed = tx.RemoveFile(name) })
	return removed
}

func (s *Store) MappedFilename(original string) string {
	mapped := original
	s.View(func(tx *Tx) { mapped = tx.MappedFilename(original) })
	return mapped
}

func (s *Store) ClearUploadedFiles() {
	s.Update(func(tx *Tx) { tx.ClearFiles() })
}

// Mapping returns a copy of the original → server name relation.
func (s *Store) Mapping() map[string]string {
	out := make(map[string]string)
	s.View(func(tx *Tx) {
		for k, v := range tx.st.mapping {
			out[k] = v
		}
	})
	return out
}

// rehydrate replaces memory with the persisted state. Parts whose last
// write failed are kept from memory until a write succeeds, read failures
// keep the in-memory copy and corrupt content resets the file list.
func (s *Store) rehydrate(st *snapshot) {
	if !st.taskPending {
		taskID, ok, err := s.storage.Get(KeyCurrentTaskID)
		switch {
		case err != nil:
			log.Error().Err(err).Str("key", KeyCurrentTaskID).Msg("load state failed")
		case ok:
			st.taskID = taskID
		default:
			st.taskID = ""
		}
	}
	if st.filesPending {
		return
	}

	rawFiles, filesFound, err := s.storage.Get(KeyUploadedFiles)
	if err != nil {
		log.Error().Err(err).Str("key", KeyUploadedFiles).Msg("load state failed")
		return
	}
	rawMapping, mappingFound, err := s.storage.Get(KeyFilenameMapping)
	if err != nil {
		log.Error().Err(err).Str("key", KeyFilenameMapping).Msg("load state failed")
		return
	}

	files, migrated, err := decodeFiles(rawFiles)
	if err != nil {
		log.Error().Err(err).Msg("stored files unreadable, resetting list")
		st.reset()
		return
	}
	mapping, err := decodeMapping(rawMapping)
	if err != nil {
		log.Error().Err(err).Msg("stored mapping unreadable, rebuilding from list")
		migrated = true
	}
	files, mapping, repaired := reconcile(files, mapping)
	st.files, st.mapping = files, mapping

	switch {
	case filesFound && (migrated || repaired):
		log.Info().Int("files", len(files)).Msg("upgrading stored file list")
		st.filesPending = !s.writeFiles(st)
	case !filesFound && mappingFound:
		log.Info().Msg("removing mapping without a file list")
		if err := s.storage.Remove(KeyFilenameMapping); err != nil {
			log.Error().Err(err).Str("key", KeyFilenameMapping).Msg("clear stored files failed")
			st.filesPending = true
		}
	}
}

func (s *Store) persist(tx *Tx) {
	st := tx.st
	if tx.taskDirty {
		var err error
		if st.taskID == "" {
			err = s.storage.Remove(KeyCurrentTaskID)
		} else {
			err = s.storage.Set(KeyCurrentTaskID, st.taskID)
		}
		st.taskPending = err != nil
		if err != nil {
			log.Error().Err(err).Str("task_id", st.taskID).Msg("persist task id failed")
		}
	}
	if tx.filesWiped {
		st.filesPending = false
		for _, key := range []string{KeyUploadedFiles, KeyFilenameMapping} {
			if err := s.storage.Remove(key); err != nil {
				st.filesPending = true
				log.Error().Err(err).Str("key", key).Msg("clear stored files failed")
			}
		}
	}
	if tx.filesDirty {
		st.filesPending = !s.writeFiles(st)
	}
}

func (s *Store) writeFiles(st *snapshot) bool {
	filesValue, err := encodeFiles(st.files)
	if err != nil {
		log.Error().Err(err).Msg("persist files failed")
		return false
	}
	mappingValue, err := encodeMapping(st.mapping)
	if err != nil {
		log.Error().Err(err).Msg("persist mapping failed")
		return false
	}
	if err := s.storage.Set(KeyUploadedFiles, filesValue); err != nil {
		log.Error().Err(err).Str("key", KeyUploadedFiles).Msg("persist files failed")
		return false
	}
	if err := s.storage.Set(KeyFilenameMapping, mappingValue); err != nil {
		log.Error().Err(err).Str("key", KeyFilenameMapping).Msg("persist mapping failed")
		return false
	}
	return true
}
