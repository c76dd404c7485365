package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"open-pryv.io/core/apierror"
	"open-pryv.io/core/model"
)

func subsetEvaluator(t *testing.T, perms ...model.Permission) *Evaluator {
	t.Helper()
	return NewEvaluator(&model.Access{Type: model.AccessApp, Permissions: perms}, testTree(t))
}

func errID(t *testing.T, err error) apierror.ID {
	t.Helper()
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	return apiErr.ID
}

func TestVerifySubsetAcceptsEqualAndNarrowerScopes(t *testing.T) {
	creator := subsetEvaluator(t, model.Permission{StreamID: "health", Level: model.LevelContribute})

	assert.NoError(t, VerifySubset(creator, []model.Permission{
		{StreamID: "health", Level: model.LevelContribute},
	}))
	assert.NoError(t, VerifySubset(creator, []model.Permission{
		{StreamID: "health-heart", Level: model.LevelRead},
	}))
}

func TestVerifySubsetRejectsWiderLevel(t *testing.T) {
	creator := subsetEvaluator(t, model.Permission{StreamID: "health", Level: model.LevelRead})

	err := VerifySubset(creator, []model.Permission{
		{StreamID: "health", Level: model.LevelContribute},
	})
	require.Error(t, err)
	assert.Equal(t, apierror.Forbidden, errID(t, err))
}

func TestVerifySubsetRejectsOutOfScopeStream(t *testing.T) {
	creator := subsetEvaluator(t, model.Permission{StreamID: "health", Level: model.LevelManage})

	err := VerifySubset(creator, []model.Permission{
		{StreamID: "work", Level: model.LevelRead},
	})
	require.Error(t, err)
	assert.Equal(t, apierror.Forbidden, errID(t, err))
}

func TestVerifySubsetManageNeedsManage(t *testing.T) {
	creator := subsetEvaluator(t, model.Permission{StreamID: "health", Level: model.LevelContribute})

	err := VerifySubset(creator, []model.Permission{
		{StreamID: "health", Level: model.LevelManage},
	})
	require.Error(t, err)
	assert.Equal(t, apierror.Forbidden, errID(t, err))
}

func TestVerifySubsetStarRequiresStarAtom(t *testing.T) {
	// manage on a single root does not justify a '*' permission.
	narrow := subsetEvaluator(t, model.Permission{StreamID: "health", Level: model.LevelManage})
	err := VerifySubset(narrow, []model.Permission{
		{StreamID: model.StarStreamID, Level: model.LevelRead},
	})
	require.Error(t, err)
	assert.Equal(t, apierror.Forbidden, errID(t, err))

	wide := subsetEvaluator(t, model.Permission{StreamID: model.StarStreamID, Level: model.LevelRead})
	assert.NoError(t, VerifySubset(wide, []model.Permission{
		{StreamID: model.StarStreamID, Level: model.LevelRead},
	}))
}

func TestVerifySubsetPersonalCreatorDelegatesStar(t *testing.T) {
	creator := NewEvaluator(&model.Access{Type: model.AccessPersonal}, testTree(t))
	assert.NoError(t, VerifySubset(creator, []model.Permission{
		{StreamID: model.StarStreamID, Level: model.LevelManage},
	}))
}

func TestVerifySubsetSelfRevokeForbiddenIsInherited(t *testing.T) {
	creator := subsetEvaluator(t,
		model.Permission{StreamID: "health", Level: model.LevelManage},
		model.Permission{Feature: model.FeatureSelfRevoke, Setting: model.SettingForbidden},
	)

	err := VerifySubset(creator, []model.Permission{
		{StreamID: "health", Level: model.LevelRead},
	})
	require.Error(t, err)
	assert.Equal(t, apierror.Forbidden, errID(t, err))

	assert.NoError(t, VerifySubset(creator, []model.Permission{
		{StreamID: "health", Level: model.LevelRead},
		{Feature: model.FeatureSelfRevoke, Setting: model.SettingForbidden},
	}))
}

func TestVerifySubsetRejectsMalformedAtoms(t *testing.T) {
	creator := subsetEvaluator(t, model.Permission{StreamID: "health", Level: model.LevelManage})

	err := VerifySubset(creator, []model.Permission{
		{StreamID: "health", Level: "owner"},
	})
	require.Error(t, err)
	assert.Equal(t, apierror.InvalidParametersFormat, errID(t, err))

	err = VerifySubset(creator, []model.Permission{
		{Feature: "teleport", Setting: model.SettingForbidden},
	})
	require.Error(t, err)
	assert.Equal(t, apierror.InvalidParametersFormat, errID(t, err))
}
