package access

import (
	"fmt"

	"open-pryv.io/core/apierror"
	"open-pryv.io/core/model"
)

// VerifySubset checks that the permissions requested for a new access are a
// subset of the creator's: for every stream atom the creator's effective
// level on that scope must be at least the requested level, manage may only
// be delegated by a manage holder, and selfRevoke=forbidden is inherited.
// The relation is reflexive and transitive by construction.
func VerifySubset(creator *Evaluator, requested []model.Permission) error {
	creatorForbidsSelfRevoke := !creator.Access().CanSelfRevoke()

	for _, p := range requested {
		if p.IsFeature() {
			if p.Feature != model.FeatureSelfRevoke {
				return apierror.New(apierror.InvalidParametersFormat,
					fmt.Sprintf("Unknown feature permission %q", p.Feature))
			}
			if p.Setting != model.SettingForbidden {
				return apierror.New(apierror.InvalidParametersFormat,
					fmt.Sprintf("Unsupported selfRevoke setting %q", p.Setting))
			}
			continue
		}

		if !p.Level.Valid() {
			return apierror.New(apierror.InvalidParametersFormat,
				fmt.Sprintf("Invalid permission level %q", p.Level))
		}

		effective := creator.LevelFor(p.StreamID)
		if p.StreamID == model.StarStreamID && !creator.Access().IsPersonal() {
			effective = starLevel(creator)
		}
		if effective.Order() < p.Level.Order() {
			return apierror.New(apierror.Forbidden,
				fmt.Sprintf("Insufficient permissions to delegate level %q on stream %q", p.Level, p.StreamID))
		}
		if p.Level == model.LevelManage && !effective.CanManage() {
			return apierror.New(apierror.Forbidden,
				fmt.Sprintf("Only a manage holder may delegate manage on stream %q", p.StreamID))
		}
	}

	// selfRevoke=forbidden propagates: a creator that cannot self-revoke
	// cannot hand out revocable accesses.
	if creatorForbidsSelfRevoke && !containsForbiddenSelfRevoke(requested) {
		return apierror.New(apierror.Forbidden,
			"selfRevoke restriction must be inherited by delegated accesses")
	}
	return nil
}

// starLevel computes the creator's level over the whole forest, i.e. the
// level it holds via a '*' atom; a narrower atom cannot justify '*'.
func starLevel(creator *Evaluator) model.Level {
	best := model.LevelNone
	for _, p := range creator.Access().Permissions {
		if p.IsFeature() || p.StreamID != model.StarStreamID {
			continue
		}
		if p.Level.Order() > best.Order() {
			best = p.Level
		}
	}
	return best
}

func containsForbiddenSelfRevoke(perms []model.Permission) bool {
	for _, p := range perms {
		if p.Feature == model.FeatureSelfRevoke && p.Setting == model.SettingForbidden {
			return true
		}
	}
	return false
}
