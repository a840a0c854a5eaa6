package ecs

import "github.com/argus-labs/chunkstore/pkg/assert"

// Prefab marks template entities. Queries skip them unless IncludePrefab is set or the query
// names Prefab.
type Prefab struct{}

func (Prefab) Name() string { return "Prefab" }

// Disabled marks entities that queries skip unless IncludeDisabledEntities is set or the query
// names Disabled.
type Disabled struct{}

func (Disabled) Name() string { return "Disabled" }

// LinkedEntityGroup is a buffer element listing the entities that are instantiated and destroyed
// together with a root. The root is conventionally the first element.
type LinkedEntityGroup struct {
	Value Entity
}

func (LinkedEntityGroup) Name() string { return "LinkedEntityGroup" }

// OmitLinkedEntityGroupFromPrefabInstance on a group root keeps the LinkedEntityGroup buffer off
// the instantiated root. The tag itself is consumed.
type OmitLinkedEntityGroupFromPrefabInstance struct{}

func (OmitLinkedEntityGroupFromPrefabInstance) Name() string {
	return "OmitLinkedEntityGroupFromPrefabInstance"
}

// CleanupEntity is added by the engine to destroyed entities that still hold cleanup components.
type CleanupEntity struct{}

func (CleanupEntity) Name() string { return "CleanupEntity" }

type builtinTypes struct {
	entity            TypeIndex
	prefab            TypeIndex
	disabled          TypeIndex
	linkedEntityGroup TypeIndex
	omitLinkedGroup   TypeIndex
	cleanupEntity     TypeIndex
}

func (r *TypeRegistry) registerBuiltins() {
	entity := newTypeInfo[Entity](entityReflectType, KindEntity)
	entity.EntityOffsets = nil
	entity.newColumn = columnFactory[Entity](entity)
	idx, err := r.register(entity, typeOptions{})
	assert.That(err == nil, "registering the entity type: %v", err)
	r.builtins.entity = idx

	mustRegister := func(idx TypeIndex, err error) TypeIndex {
		assert.That(err == nil, "registering a built-in type: %v", err)
		return idx
	}
	r.builtins.prefab = mustRegister(RegisterComponent[Prefab](r))
	r.builtins.disabled = mustRegister(RegisterComponent[Disabled](r))
	r.builtins.linkedEntityGroup = mustRegister(RegisterBuffer[LinkedEntityGroup](r))
	r.builtins.omitLinkedGroup = mustRegister(RegisterComponent[OmitLinkedEntityGroupFromPrefabInstance](r))
	r.builtins.cleanupEntity = mustRegister(RegisterComponent[CleanupEntity](r))
}

// EntityType returns the index of the Entity pseudo-type every archetype starts with.
func (r *TypeRegistry) EntityType() TypeIndex { return r.builtins.entity }

// PrefabType returns the index of the Prefab tag.
func (r *TypeRegistry) PrefabType() TypeIndex { return r.builtins.prefab }

// DisabledType returns the index of the Disabled tag.
func (r *TypeRegistry) DisabledType() TypeIndex { return r.builtins.disabled }

// LinkedEntityGroupType returns the index of the LinkedEntityGroup buffer.
func (r *TypeRegistry) LinkedEntityGroupType() TypeIndex { return r.builtins.linkedEntityGroup }

// OmitLinkedEntityGroupType returns the index of OmitLinkedEntityGroupFromPrefabInstance.
func (r *TypeRegistry) OmitLinkedEntityGroupType() TypeIndex { return r.builtins.omitLinkedGroup }

// CleanupEntityType returns the index of the CleanupEntity tag.
func (r *TypeRegistry) CleanupEntityType() TypeIndex { return r.builtins.cleanupEntity }
