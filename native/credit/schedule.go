package credit

// MarkMissedPayment records a lapsed installment. A plan that is already
// marked for its current interval, or already defaulted, is left untouched so
// scheduler retries are safe. Each mark advances the due date by one
// interval, letting a late scheduler catch up one installment per call.
func (e *Engine) MarkMissedPayment(positionID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	position, err := e.loadPosition(positionID)
	if err != nil {
		return err
	}
	if !position.Active {
		return ErrPositionNotActive
	}
	plan, ok, err := e.state.GetPlan(positionID)
	if err != nil {
		return err
	}
	if !ok || !plan.Active {
		return ErrPlanNotActive
	}
	if plan.Defaulted {
		return nil
	}
	now := e.now()
	if now <= plan.NextPaymentDue {
		if plan.MissedPayments > 0 && now > plan.LastMissedDue {
			return nil
		}
		return ErrPaymentNotDue
	}

	plan.MissedPayments++
	plan.Overdue++
	plan.LastMissedDue = plan.NextPaymentDue
	plan.NextPaymentDue += plan.InstallmentInterval
	defaulted := plan.MissedPayments >= e.params.MissedPaymentThreshold
	if defaulted {
		plan.Defaulted = true
		position.State = StateDefaulted
		if err := e.state.PutPosition(position); err != nil {
			return err
		}
	}
	if err := e.state.PutPlan(plan); err != nil {
		return err
	}
	e.emit(NewPaymentMissedEvent(plan))
	if defaulted {
		e.emit(NewPlanDefaultedEvent(plan))
	}
	return nil
}

// DuePlans lists active, non-defaulted plans whose next installment lapsed
// before now, in position order starting after afterID.
func (e *Engine) DuePlans(afterID uint64, limit int) ([]*RepaymentPlan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if limit <= 0 {
		limit = 100
	}
	now := e.now()
	var due []*RepaymentPlan
	cursor := afterID
	for len(due) < limit {
		plans, err := e.state.ScanPlans(cursor, limit)
		if err != nil {
			return nil, err
		}
		for _, plan := range plans {
			cursor = plan.PositionID
			if plan.Active && !plan.Defaulted && now > plan.NextPaymentDue {
				due = append(due, plan)
				if len(due) == limit {
					break
				}
			}
		}
		if len(plans) < limit {
			break
		}
	}
	return due, nil
}

// DefaultedPositions lists defaulted positions awaiting liquidation, in
// position order starting after afterID.
func (e *Engine) DefaultedPositions(afterID uint64, limit int) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if limit <= 0 {
		limit = 100
	}
	var ids []uint64
	cursor := afterID
	for len(ids) < limit {
		plans, err := e.state.ScanPlans(cursor, limit)
		if err != nil {
			return nil, err
		}
		for _, plan := range plans {
			cursor = plan.PositionID
			if !plan.Defaulted {
				continue
			}
			position, ok, err := e.state.GetPosition(plan.PositionID)
			if err != nil {
				return nil, err
			}
			if ok && position.State == StateDefaulted {
				ids = append(ids, plan.PositionID)
				if len(ids) == limit {
					break
				}
			}
		}
		if len(plans) < limit {
			break
		}
	}
	return ids, nil
}
