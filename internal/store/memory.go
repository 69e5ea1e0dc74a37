package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/scan-io-git/vulnimpact/pkg/shared"
	"github.com/scan-io-git/vulnimpact/pkg/shared/errors"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu              sync.RWMutex
	vulnerabilities map[string]shared.VulnerabilityRecord
	repositories    map[string]shared.RepositoryRegistration
	scans           map[string][]shared.ScanResult
	remediations    map[string]map[string]shared.RemediationResponse
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vulnerabilities: make(map[string]shared.VulnerabilityRecord),
		repositories:    make(map[string]shared.RepositoryRegistration),
		scans:           make(map[string][]shared.ScanResult),
		remediations:    make(map[string]map[string]shared.RemediationResponse),
	}
}

func (m *MemoryStore) UpsertVulnerability(_ context.Context, v shared.VulnerabilityRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := v.Key()
	stored, ok := m.vulnerabilities[key]
	if !ok {
		m.vulnerabilities[key] = v
		return true, nil
	}
	stored.RefineFlags(v)
	m.vulnerabilities[key] = stored
	return false, nil
}

func (m *MemoryStore) ListVulnerabilities(_ context.Context, ecosystems ...string) ([]shared.VulnerabilityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	filter := ecosystemFilter(ecosystems)
	var records []shared.VulnerabilityRecord
	for _, v := range m.vulnerabilities {
		if filter == nil || filter[strings.ToLower(v.Ecosystem)] {
			records = append(records, v)
		}
	}
	sortVulnerabilities(records)
	return records, nil
}

func (m *MemoryStore) RegisterRepository(_ context.Context, reg shared.RepositoryRegistration) (shared.RepositoryRegistration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.repositories[reg.ID]; ok {
		return existing, false, nil
	}
	m.repositories[reg.ID] = reg
	return reg, true, nil
}

func (m *MemoryStore) GetRepository(_ context.Context, id string) (shared.RepositoryRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reg, ok := m.repositories[id]
	if !ok {
		return shared.RepositoryRegistration{}, errors.ErrNotFound
	}
	return reg, nil
}

func (m *MemoryStore) ListActiveRepositories(_ context.Context) ([]shared.RepositoryRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var regs []shared.RepositoryRegistration
	for _, reg := range m.repositories {
		if reg.Active {
			regs = append(regs, reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].ID < regs[j].ID })
	return regs, nil
}

func (m *MemoryStore) SetRepositoryActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.repositories[id]
	if !ok {
		return errors.ErrNotFound
	}
	reg.Active = active
	m.repositories[id] = reg
	return nil
}

func (m *MemoryStore) RecordScan(_ context.Context, result shared.ScanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.repositories[result.RepositoryID]
	if !ok {
		return errors.ErrNotFound
	}
	applyScan(&reg, result)
	m.repositories[reg.ID] = reg
	m.scans[result.RepositoryID] = append(m.scans[result.RepositoryID], copyResult(result))
	return nil
}

func (m *MemoryStore) SaveScanResult(_ context.Context, result shared.ScanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scans[result.RepositoryID] = append(m.scans[result.RepositoryID], copyResult(result))
	return nil
}

func (m *MemoryStore) LatestScanResult(_ context.Context, repositoryID string) (shared.ScanResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.scans[repositoryID]
	if len(history) == 0 {
		return shared.ScanResult{}, errors.ErrNotFound
	}
	return copyResult(history[len(history)-1]), nil
}

func (m *MemoryStore) ListScanResults(_ context.Context, repositoryID string, limit int) ([]shared.ScanResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.scans[repositoryID]
	var results []shared.ScanResult
	for i := len(history) - 1; i >= 0; i-- {
		if limit > 0 && len(results) == limit {
			break
		}
		results = append(results, copyResult(history[i]))
	}
	return results, nil
}

func (m *MemoryStore) RecordRemediation(_ context.Context, repositoryID, hitKey string, resp shared.RemediationResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.remediations[repositoryID] == nil {
		m.remediations[repositoryID] = make(map[string]shared.RemediationResponse)
	}
	m.remediations[repositoryID][hitKey] = resp
	return nil
}

func (m *MemoryStore) Remediations(_ context.Context, repositoryID string) (map[string]shared.RemediationResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]shared.RemediationResponse, len(m.remediations[repositoryID]))
	for k, v := range m.remediations[repositoryID] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func copyResult(r shared.ScanResult) shared.ScanResult {
	r.Hits = append([]shared.CriticalHit{}, r.Hits...)
	return r
}
